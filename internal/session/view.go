package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/internal/optimistic"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

// MessageLister reads the authoritative message list.
type MessageLister interface {
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// View is one conversation as a user sees it: the sessions, the local
// echoes of sent messages and the cached message list.
type View struct {
	conversationID string
	controller     *Controller
	buffer         *optimistic.Buffer
	messages       *cache.Cache[[]model.Message]
	lister         MessageLister
	logger         *logger.Logger

	// Base holds the generation parameters copied into every request.
	Base model.StreamRequest
	// ContextFunc, when set, supplies the workspace blurb for new messages.
	ContextFunc func(ctx context.Context) string
}

// NewView creates a view of conversationID.
func NewView(conversationID string, controller *Controller, messages *cache.Cache[[]model.Message], lister MessageLister, log *logger.Logger) *View {
	return &View{
		conversationID: conversationID,
		controller:     controller,
		buffer:         optimistic.NewBuffer(),
		messages:       messages,
		lister:         lister,
		logger:         logger.OrGlobal(log).With(zap.String("conversation_id", conversationID)),
	}
}

// Controller returns the view's session controller.
func (v *View) Controller() *Controller {
	return v.controller
}

func (v *View) request() *model.StreamRequest {
	req := v.Base
	req.ConversationID = v.conversationID
	req.Attachments = nil
	req.Regenerate = false
	req.RegenerateStyle = ""
	req.QuickAction = ""
	req.ReferenceMessageID = ""
	return &req
}

// Send starts a generation for a new user message and shows a local echo of
// it until the message list is re-read.
func (v *View) Send(ctx context.Context, text string, attachments []model.Attachment) (*Session, error) {
	req := v.request()
	req.Message = text
	req.Attachments = attachments
	if v.ContextFunc != nil {
		req.WorkspaceContext = v.ContextFunc(ctx)
	}

	// The echo must exist before the stream can finish and trigger a re-read.
	echo := v.buffer.Add(text, len(attachments))
	s, err := v.controller.Start(ctx, req)
	if err != nil {
		v.buffer.Remove(echo.ID)
		return nil, err
	}
	return s, nil
}

// Quick asks for a rewrite of an existing message.
func (v *View) Quick(ctx context.Context, referenceID string, action model.QuickAction) (*Session, error) {
	req := v.request()
	req.Message = ""
	req.QuickAction = action
	req.ReferenceMessageID = referenceID
	return v.controller.Start(ctx, req)
}

// Regenerate asks for a new answer to an existing message.
func (v *View) Regenerate(ctx context.Context, referenceID string, style model.RegenerateStyle) (*Session, error) {
	req := v.request()
	req.Message = ""
	req.Regenerate = true
	req.RegenerateStyle = style
	req.ReferenceMessageID = referenceID
	return v.controller.Start(ctx, req)
}

// StartCompare sends text to modelID as a secondary session.
func (v *View) StartCompare(ctx context.Context, text, modelID string) (*Session, error) {
	if modelID == "" {
		return nil, fmt.Errorf("compare: %w", model.ErrEmptyRequest)
	}
	req := v.request()
	req.Message = text
	req.Mode = ""
	req.Model = modelID
	if v.ContextFunc != nil {
		req.WorkspaceContext = v.ContextFunc(ctx)
	}
	return v.controller.StartCompare(ctx, req)
}

// Stop stops both sessions.
func (v *View) Stop() {
	v.controller.StopAll()
}

// Wait blocks until both sessions have ended.
func (v *View) Wait(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, role := range []Role{RolePrimary, RoleCompare} {
		s := v.controller.Current(role)
		if s == nil {
			continue
		}
		g.Go(func() error {
			return s.Wait(ctx)
		})
	}
	return g.Wait()
}

// OnChange registers fn to run whenever the conversation's message list is
// invalidated, so a renderer can call Messages again. fn may run on a session
// goroutine and must not call Stop.
func (v *View) OnChange(fn func()) {
	key := cache.MessagesKey(v.conversationID)
	v.messages.Subscribe(func(invalidated string) {
		if invalidated == key {
			fn()
		}
	})
}

// Messages returns the list to render. While the cached list is current,
// pending echoes are appended to it; once it has been invalidated the
// re-read list replaces them.
func (v *View) Messages(ctx context.Context) []model.Message {
	key := cache.MessagesKey(v.conversationID)

	if cached, fresh := v.messages.Peek(key); fresh && v.buffer.Pending() > 0 {
		return append(append([]model.Message{}, cached...), v.buffer.Display(nil)...)
	}

	server, err := v.messages.Get(ctx, key, func(ctx context.Context) ([]model.Message, error) {
		return v.lister.ListMessages(ctx, v.conversationID)
	})
	if err != nil {
		v.logger.Warn("failed to load messages", zap.Error(err))
		stale, _ := v.messages.Peek(key)
		return append(append([]model.Message{}, stale...), v.buffer.Display(nil)...)
	}
	return v.buffer.Display(server)
}
