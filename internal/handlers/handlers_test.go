package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replypost-io/replypost/internal/pipeline"
	"github.com/replypost-io/replypost/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func messageData(userID int, token, content, subject string) *pipeline.MessageData {
	return &pipeline.MessageData{
		UserID:  userID,
		Token:   token,
		Content: content,
		Subject: subject,
	}
}

type guardFunc func(ctx context.Context, rootID int) error

func (f guardFunc) CheckRoot(ctx context.Context, rootID int) error { return f(ctx, rootID) }

func TestCommentReplyRecognizes(t *testing.T) {
	h := &CommentReplyHandler{}
	assert.True(t, h.Recognizes(map[string]string{"a": "10", "p": "11"}))
	assert.False(t, h.Recognizes(map[string]string{"a": "10"}))
	assert.False(t, h.Recognizes(map[string]string{"t": "1"}))
}

func TestCommentReplyCreatesComment(t *testing.T) {
	s := openTestStore(t)
	h := &CommentReplyHandler{Comments: s.Comments}
	params := map[string]string{"a": "10", "p": "11"}

	out := h.Handle(context.Background(), messageData(7, "tok", "Nice post!", "Re: x"), params)
	require.Nil(t, out.Failure)
	id, ok := out.Payload["comment_id"].(int)
	require.True(t, ok)

	c, err := s.Comments.ByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 10, c.RootID)
	assert.Equal(t, 11, c.ParentID)
	assert.Equal(t, "Nice post!", c.Body)
	assert.Equal(t, 7, c.UserID)

	// Redelivery of the same token and params reuses the row.
	again := h.Handle(context.Background(), messageData(7, "tok", "Nice post!", "Re: x"), params)
	require.Nil(t, again.Failure)
	assert.Equal(t, id, again.Payload["comment_id"])
}

func TestCommentReplyBadParameters(t *testing.T) {
	s := openTestStore(t)
	h := &CommentReplyHandler{Comments: s.Comments}

	out := h.Handle(context.Background(), messageData(7, "tok", "x", ""),
		map[string]string{"a": "ten", "p": "11"})
	require.NotNil(t, out.Failure)
	assert.Equal(t, FailBadParameters, out.Failure.Kind)
	assert.Empty(t, h.FailureNotice(FailBadParameters), "sender cannot act on this")
}

func TestCommentReplyClosedDiscussion(t *testing.T) {
	s := openTestStore(t)
	h := &CommentReplyHandler{
		Comments: s.Comments,
		Guard: guardFunc(func(_ context.Context, rootID int) error {
			if rootID == 10 {
				return ErrClosed
			}
			return nil
		}),
	}

	out := h.Handle(context.Background(), messageData(7, "tok", "Late reply", ""),
		map[string]string{"a": "10", "p": "11"})
	require.NotNil(t, out.Failure)
	assert.Equal(t, FailClosed, out.Failure.Kind)
	assert.Contains(t, h.FailureNotice(FailClosed), "closed")

	out = h.Handle(context.Background(), messageData(7, "tok2", "On time", ""),
		map[string]string{"a": "20", "p": "21"})
	assert.Nil(t, out.Failure)
}

func TestCommentReplyGuardError(t *testing.T) {
	s := openTestStore(t)
	h := &CommentReplyHandler{
		Comments: s.Comments,
		Guard: guardFunc(func(context.Context, int) error {
			return errors.New("lookup failed")
		}),
	}

	out := h.Handle(context.Background(), messageData(7, "tok", "x", ""),
		map[string]string{"a": "10", "p": "11"})
	require.NotNil(t, out.Failure)
	assert.Equal(t, FailStorage, out.Failure.Kind)
}

func TestTopicRecognizes(t *testing.T) {
	h := &TopicHandler{}
	assert.True(t, h.Recognizes(map[string]string{"t": "1"}))
	assert.True(t, h.Recognizes(map[string]string{"g": "3"}))
	assert.True(t, h.Recognizes(map[string]string{"f": "3"}))
	assert.False(t, h.Recognizes(map[string]string{"a": "1", "p": "2"}))
	assert.Equal(t, []string{"f"}, h.ParamKeys())
}

func TestTopicReply(t *testing.T) {
	s := openTestStore(t)
	h := &TopicHandler{Topics: s.Topics}

	out := h.Handle(context.Background(), messageData(7, "tok", "Following up.", "Re: weekly"),
		map[string]string{"t": "5"})
	require.Nil(t, out.Failure)
	assert.Contains(t, out.Payload, "post_id")
}

func TestTopicNewFromForumToken(t *testing.T) {
	s := openTestStore(t)
	h := &TopicHandler{Topics: s.Topics}

	out := h.Handle(context.Background(),
		messageData(7, "tok-new", "A brand new topic body.", "Fwd: Re: Budget planning"),
		map[string]string{"g": "3"})
	require.Nil(t, out.Failure)
	id, ok := out.Payload["topic_id"].(int)
	require.True(t, ok)

	topic, err := s.Topics.TopicByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, topic.ForumID)
	assert.Equal(t, "Budget planning", topic.Title, "reply and forward prefixes stripped")
	assert.Equal(t, "A brand new topic body.", topic.Body)
}

func TestTopicTitleFallback(t *testing.T) {
	assert.Equal(t, "(no subject)", topicTitle("Re:"))
	assert.Equal(t, "(no subject)", topicTitle("  "))
	assert.Equal(t, "Hello", topicTitle("re: RE: Hello"))
}

func TestHandlersSatisfyPipelineInterfaces(t *testing.T) {
	var _ pipeline.Handler = (*CommentReplyHandler)(nil)
	var _ pipeline.FailureDescriber = (*CommentReplyHandler)(nil)
	var _ pipeline.Handler = (*TopicHandler)(nil)
	var _ pipeline.FailureDescriber = (*TopicHandler)(nil)
}
