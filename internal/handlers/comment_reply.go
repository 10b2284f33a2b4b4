// Package handlers contains the content handlers the pipeline dispatches
// to: each turns a validated, parsed email into one content-creation
// action against the store.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/replypost-io/replypost/internal/pipeline"
	"github.com/replypost-io/replypost/internal/store"
)

// Failure kinds shared by the handlers.
const (
	FailBadParameters = "bad_parameters"
	FailClosed        = "discussion_closed"
	FailStorage       = "storage_error"
)

// ErrClosed is returned by a Guard when the target no longer accepts
// replies.
var ErrClosed = errors.New("handlers: target is closed")

// Guard checks that a root content item still accepts replies. Optional;
// a nil guard accepts everything.
type Guard interface {
	CheckRoot(ctx context.Context, rootID int) error
}

// CommentReplyHandler posts a comment in reply to an existing content
// item. It recognizes tokens carrying both the root item id ("a") and the
// parent comment id ("p").
type CommentReplyHandler struct {
	Comments *store.CommentStore
	Guard    Guard
}

func (h *CommentReplyHandler) ID() string { return "comment_reply" }

// ParamKeys is empty: the keys this handler reads are already in the
// fixed whitelist.
func (h *CommentReplyHandler) ParamKeys() []string { return nil }

func (h *CommentReplyHandler) Recognizes(params map[string]string) bool {
	_, hasRoot := params["a"]
	_, hasParent := params["p"]
	return hasRoot && hasParent
}

func (h *CommentReplyHandler) Handle(ctx context.Context, data *pipeline.MessageData, params map[string]string) pipeline.Outcome {
	rootID, err := strconv.Atoi(params["a"])
	if err != nil {
		return pipeline.Fail(FailBadParameters, nil)
	}
	parentID, err := strconv.Atoi(params["p"])
	if err != nil {
		return pipeline.Fail(FailBadParameters, nil)
	}

	if h.Guard != nil {
		if err := h.Guard.CheckRoot(ctx, rootID); err != nil {
			if errors.Is(err, ErrClosed) {
				return pipeline.Fail(FailClosed, nil)
			}
			return pipeline.Fail(FailStorage, nil)
		}
	}

	id, _, err := h.Comments.Create(ctx, &store.Comment{
		UserID:    data.UserID,
		RootID:    rootID,
		ParentID:  parentID,
		Body:      data.Content,
		DedupeKey: store.DedupeKey(data.UserID, data.Token, params),
	})
	if err != nil {
		return pipeline.Fail(FailStorage, nil)
	}
	return pipeline.Succeed(map[string]any{"comment_id": id})
}

// FailureLog describes the failure for operators.
func (h *CommentReplyHandler) FailureLog(kind string) string {
	switch kind {
	case FailBadParameters:
		return "comment reply skipped: token parameters are not numeric ids"
	case FailClosed:
		return "comment reply refused: target discussion is closed"
	case FailStorage:
		return "comment reply failed: could not persist comment"
	}
	return fmt.Sprintf("comment reply failed: %s", kind)
}

// FailureNotice is the sender-facing explanation; only failures the
// sender can act on get one.
func (h *CommentReplyHandler) FailureNotice(kind string) string {
	if kind == FailClosed {
		return "The discussion you replied to has been closed, so your comment could not be posted."
	}
	return ""
}
