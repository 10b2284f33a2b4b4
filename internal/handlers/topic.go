package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/replypost-io/replypost/internal/pipeline"
	"github.com/replypost-io/replypost/internal/store"
)

// TopicHandler appends a post to an existing topic ("t" tokens) or starts
// a new topic in a forum ("g" or "f" tokens). The new-topic title comes
// from the subject line with any reply prefixes stripped.
type TopicHandler struct {
	Topics *store.TopicStore
}

func (h *TopicHandler) ID() string { return "topic" }

// ParamKeys registers the forum-id key, which is not in the fixed
// whitelist.
func (h *TopicHandler) ParamKeys() []string { return []string{"f"} }

func (h *TopicHandler) Recognizes(params map[string]string) bool {
	for _, k := range []string{"t", "g", "f"} {
		if _, ok := params[k]; ok {
			return true
		}
	}
	return false
}

func (h *TopicHandler) Handle(ctx context.Context, data *pipeline.MessageData, params map[string]string) pipeline.Outcome {
	if raw, ok := params["t"]; ok {
		topicID, err := strconv.Atoi(raw)
		if err != nil {
			return pipeline.Fail(FailBadParameters, nil)
		}
		id, _, err := h.Topics.CreateReply(ctx, &store.TopicReply{
			UserID:    data.UserID,
			TopicID:   topicID,
			Body:      data.Content,
			DedupeKey: store.DedupeKey(data.UserID, data.Token, params),
		})
		if err != nil {
			return pipeline.Fail(FailStorage, nil)
		}
		return pipeline.Succeed(map[string]any{"post_id": id})
	}

	raw, ok := params["g"]
	if !ok {
		raw = params["f"]
	}
	forumID, err := strconv.Atoi(raw)
	if err != nil {
		return pipeline.Fail(FailBadParameters, nil)
	}
	id, _, err := h.Topics.CreateTopic(ctx, &store.Topic{
		UserID:    data.UserID,
		ForumID:   forumID,
		Title:     topicTitle(data.Subject),
		Body:      data.Content,
		DedupeKey: store.DedupeKey(data.UserID, data.Token, params),
	})
	if err != nil {
		return pipeline.Fail(FailStorage, nil)
	}
	return pipeline.Succeed(map[string]any{"topic_id": id})
}

// topicTitle strips reply and forward prefixes from a subject line.
func topicTitle(subject string) string {
	title := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(title)
		switch {
		case strings.HasPrefix(lower, "re:"):
			title = strings.TrimSpace(title[3:])
		case strings.HasPrefix(lower, "fwd:"):
			title = strings.TrimSpace(title[4:])
		case strings.HasPrefix(lower, "fw:"):
			title = strings.TrimSpace(title[3:])
		default:
			if title == "" {
				return "(no subject)"
			}
			return title
		}
	}
}

func (h *TopicHandler) FailureLog(kind string) string {
	switch kind {
	case FailBadParameters:
		return "topic action skipped: token parameters are not numeric ids"
	case FailStorage:
		return "topic action failed: could not persist post"
	}
	return fmt.Sprintf("topic action failed: %s", kind)
}

func (h *TopicHandler) FailureNotice(string) string { return "" }
