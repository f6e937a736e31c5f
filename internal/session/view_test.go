package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/internal/optimistic"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

type fakeLister struct {
	mu       sync.Mutex
	messages []model.Message
	calls    int
}

func (f *fakeLister) ListMessages(_ context.Context, _ string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]model.Message(nil), f.messages...), nil
}

func (f *fakeLister) set(msgs []model.Message) {
	f.mu.Lock()
	f.messages = msgs
	f.mu.Unlock()
}

type capturingTransport struct {
	mu   sync.Mutex
	reqs []model.StreamRequest
	body string
}

func (c *capturingTransport) OpenStream(_ context.Context, req *model.StreamRequest) (io.ReadCloser, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, *req)
	c.mu.Unlock()
	return body(c.body), nil
}

func (c *capturingTransport) last() model.StreamRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[len(c.reqs)-1]
}

func (c *capturingTransport) withModel(id string) (model.StreamRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.reqs {
		if r.Model == id {
			return r, true
		}
	}
	return model.StreamRequest{}, false
}

func newTestView(t *testing.T, transport Transport, lister MessageLister) *View {
	t.Helper()
	messages := cache.New[[]model.Message]()
	c := NewController(transport, Options{Invalidator: messages, Logger: logger.NewNop()})
	v := NewView("c1", c, messages, lister, logger.NewNop())
	v.Base = model.StreamRequest{Mode: model.ModeEconomy, Level: "beginner"}
	return v
}

func TestViewHandsOffOptimisticEchoToServerList(t *testing.T) {
	lister := &fakeLister{}
	pr, pw := io.Pipe()
	defer pw.Close()
	v := newTestView(t, transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return pr, nil
	}), lister)
	ctx := context.Background()

	assert.Empty(t, v.Messages(ctx))

	s, err := v.Send(ctx, "hello", nil)
	require.NoError(t, err)

	// Until the list is re-read the echo is shown.
	shown := v.Messages(ctx)
	require.Len(t, shown, 1)
	assert.True(t, optimistic.IsTemporary(shown[0].ID))
	assert.Equal(t, "hello", shown[0].Content)

	server := []model.Message{
		{ID: "m1", ConversationID: "c1", Role: model.RoleUser, Content: "hello", CreatedAt: time.Unix(1, 0)},
		{ID: "m2", ConversationID: "c1", Role: model.RoleAssistant, Content: "Hello", CreatedAt: time.Unix(2, 0)},
	}
	lister.set(server)

	_, err = io.WriteString(pw, exampleStream)
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, server, v.Messages(ctx))
	assert.Equal(t, server, v.Messages(ctx))
}

func TestViewAppendsEchoToCurrentHistory(t *testing.T) {
	history := []model.Message{{ID: "m0", Role: model.RoleAssistant, Content: "welcome"}}
	lister := &fakeLister{messages: history}

	pr, pw := io.Pipe()
	defer pw.Close()
	v := newTestView(t, transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return pr, nil
	}), lister)
	ctx := context.Background()

	require.Equal(t, history, v.Messages(ctx))

	s, err := v.Send(ctx, "", []model.Attachment{{Type: model.AttachmentImage, Data: "aGk=", Name: "a.png"}})
	require.NoError(t, err)

	shown := v.Messages(ctx)
	require.Len(t, shown, 2)
	assert.Equal(t, "m0", shown[0].ID)
	assert.Equal(t, model.AttachmentPlaceholder, shown[1].Content)

	s.Stop()
}

func TestViewBuildsFollowUpRequests(t *testing.T) {
	transport := &capturingTransport{body: exampleStream}
	v := newTestView(t, transport, &fakeLister{})
	v.ContextFunc = func(context.Context) string { return "Closet: Shirt" }
	ctx := context.Background()

	s, err := v.Quick(ctx, "m2", model.QuickActionShorten)
	require.NoError(t, err)
	waitDone(t, s)

	req := transport.last()
	assert.Equal(t, "c1", req.ConversationID)
	assert.Equal(t, model.QuickActionShorten, req.QuickAction)
	assert.Equal(t, "m2", req.ReferenceMessageID)
	assert.Empty(t, req.Message)
	assert.Empty(t, req.WorkspaceContext)
	assert.Equal(t, model.ModeEconomy, req.Mode)

	s, err = v.Regenerate(ctx, "m2", model.RegenerateCreative)
	require.NoError(t, err)
	waitDone(t, s)

	req = transport.last()
	assert.True(t, req.Regenerate)
	assert.Equal(t, model.RegenerateCreative, req.RegenerateStyle)
	assert.Empty(t, req.QuickAction)

	_, err = v.Quick(ctx, "m2", "louder")
	assert.ErrorIs(t, err, model.ErrUnknownQuickAction)

	s, err = v.Send(ctx, "plan my week", nil)
	require.NoError(t, err)
	waitDone(t, s)
	assert.Equal(t, "Closet: Shirt", transport.last().WorkspaceContext)
}

func TestViewCompareUsesExplicitModel(t *testing.T) {
	transport := &capturingTransport{body: exampleStream}
	v := newTestView(t, transport, &fakeLister{})
	ctx := context.Background()

	_, err := v.Send(ctx, "hi", nil)
	require.NoError(t, err)
	_, err = v.StartCompare(ctx, "hi", "gpt-4o")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, v.Wait(waitCtx))

	req, ok := transport.withModel("gpt-4o")
	require.True(t, ok)
	assert.Empty(t, req.Mode)
	assert.Equal(t, "hi", req.Message)

	_, err = v.StartCompare(ctx, "hi", "")
	assert.ErrorIs(t, err, model.ErrEmptyRequest)
}

func TestViewEchoIsReplacedWhenStreamFinishesImmediately(t *testing.T) {
	server := []model.Message{
		{ID: "m1", ConversationID: "c1", Role: model.RoleUser, Content: "hello"},
		{ID: "m2", ConversationID: "c1", Role: model.RoleAssistant, Content: "Hello"},
	}
	lister := &fakeLister{messages: server}
	v := newTestView(t, transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return body(exampleStream), nil
	}), lister)
	ctx := context.Background()

	var mu sync.Mutex
	var rendered [][]model.Message
	v.OnChange(func() {
		msgs := v.Messages(ctx)
		mu.Lock()
		rendered = append(rendered, msgs)
		mu.Unlock()
	})

	s, err := v.Send(ctx, "hello", nil)
	require.NoError(t, err)
	waitDone(t, s)

	mu.Lock()
	require.NotEmpty(t, rendered)
	assert.Equal(t, server, rendered[len(rendered)-1])
	mu.Unlock()

	assert.Equal(t, server, v.Messages(ctx))
}

func TestViewDropsEchoWhenSendIsRejected(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	v := newTestView(t, transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return pr, nil
	}), &fakeLister{})
	ctx := context.Background()

	s, err := v.Send(ctx, "first", nil)
	require.NoError(t, err)
	defer s.Stop()

	_, err = v.Send(ctx, "second", nil)
	assert.ErrorIs(t, err, ErrSessionActive)

	_, err = v.Send(ctx, "", nil)
	assert.Error(t, err)

	shown := v.Messages(ctx)
	require.Len(t, shown, 1)
	assert.Equal(t, "first", shown[0].Content)
}
