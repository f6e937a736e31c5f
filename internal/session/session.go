// Package session runs streaming generations and turns their frames into
// display state for a conversation view.
package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/api"
	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/internal/stream"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
	"github.com/capitalize-ai/marketplace-stream/pkg/metrics"
)

// Role distinguishes the primary session from the compare session.
type Role string

const (
	RolePrimary Role = "primary"
	RoleCompare Role = "compare"
)

// Snapshot is the display state of a session after one change.
type Snapshot struct {
	SessionID string
	Role      Role
	// Event is the frame that caused the change; nil when the session was
	// stopped or failed to open.
	Event model.StreamEvent
	// Text is the accumulated generated text. It is cleared when the
	// session ends.
	Text   string
	Usage  *model.UsageEvent
	Active bool
	// Outcome is set once the session has ended.
	Outcome string
}

// Observer receives every snapshot of a session in order. It runs on the
// session's delivery goroutine and must not call Stop.
type Observer func(Snapshot)

// Notifier surfaces a user-facing error message. Like an Observer it runs
// while the session delivers frames and must not call Stop.
type Notifier func(role Role, message string)

// Session is one streaming generation.
type Session struct {
	id      string
	role    Role
	req     *model.StreamRequest
	started time.Time

	transport   Transport
	parser      *stream.Parser
	invalidator cache.Invalidator
	observer    Observer
	notifier    Notifier
	logger      *logger.Logger
	span        trace.Span

	ctx    context.Context
	cancel context.CancelFunc

	// deliverMu serializes frame delivery with Stop.
	deliverMu sync.Mutex

	mu      sync.Mutex
	body    io.ReadCloser
	text    strings.Builder
	usage   *model.UsageEvent
	ended   bool
	outcome stream.Outcome

	done chan struct{}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Role returns the session role.
func (s *Session) Role() Role { return s.role }

// Request returns the request that started the session.
func (s *Session) Request() *model.StreamRequest { return s.req }

// Text returns the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Usage returns the most recent usage frame, if any.
func (s *Session) Usage() *model.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Active reports whether the session is still streaming.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// Outcome returns how the session ended. It is meaningful once Active is false.
func (s *Session) Outcome() stream.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Done is closed when the session's goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session's goroutine has exited or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the transport. No snapshot for a frame is delivered after Stop
// returns. If text had accumulated, the message and conversation lists are
// invalidated because the backend may have persisted part of the exchange.
// Stopping an ended session does nothing.
func (s *Session) Stop() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	hadText := s.text.Len() > 0
	body := s.body
	s.mu.Unlock()

	s.cancel()
	if body != nil {
		body.Close()
	}

	if hadText {
		s.invalidate()
	}
	s.finish(stream.OutcomeCancelled, nil)
	s.logger.Info("session stopped", zap.Bool("had_text", hadText))
}

// run opens the transport and delivers frames until a terminal frame,
// cancellation or Stop.
func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()

	body, err := s.transport.OpenStream(s.ctx, s.req)
	if err != nil {
		s.openFailed(err)
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		if body != nil {
			body.Close()
		}
		return
	}
	s.body = body
	s.mu.Unlock()

	if body != nil {
		defer body.Close()
	}

	// A nil reader makes the parser report the missing body.
	var r io.Reader
	if body != nil {
		r = body
	}

	for ev := range s.parser.Events(s.ctx, r) {
		s.deliver(ev)
	}

	// The parser only ends without a terminal frame when the context was
	// cancelled from outside the session.
	s.deliverMu.Lock()
	if s.Active() {
		s.finish(stream.OutcomeCancelled, nil)
	}
	s.deliverMu.Unlock()
}

func (s *Session) openFailed(err error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if !s.Active() {
		return
	}
	if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
		s.finish(stream.OutcomeCancelled, nil)
		return
	}

	message := model.DefaultErrorMessage
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		message = apiErr.Message
	}

	s.logger.Warn("failed to open stream", zap.Error(err))
	s.span.RecordError(err)
	s.fail(message, nil)
}

func (s *Session) deliver(ev model.StreamEvent) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}

	switch e := ev.(type) {
	case model.DeltaEvent:
		s.text.WriteString(e.Content)
	case model.UsageEvent:
		u := e
		s.usage = &u
	case model.DoneEvent:
		s.mu.Unlock()
		s.invalidate()
		s.finish(stream.OutcomeDone, ev)
		return
	case model.ErrorEvent:
		s.mu.Unlock()
		s.fail(e.Message, ev)
		return
	}
	s.mu.Unlock()

	if u, ok := ev.(model.UsageEvent); ok && u.CoinCost != nil {
		metrics.RecordUsage(u.Model, *u.CoinCost)
	}
	s.publish(ev)
}

// fail handles a frame or transport error: the user is notified, the
// buffer is discarded and the message list re-read.
func (s *Session) fail(message string, ev model.StreamEvent) {
	if message == "" {
		message = model.DefaultErrorMessage
	}
	if s.notifier != nil {
		s.notifier(s.role, message)
	}
	s.span.SetStatus(codes.Error, message)
	s.invalidateMessages()
	s.finish(stream.OutcomeError, ev)
}

// finish ends the session once, clears the buffer and publishes the final
// snapshot. Callers hold deliverMu.
func (s *Session) finish(outcome stream.Outcome, ev model.StreamEvent) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.outcome = outcome
	s.text.Reset()
	s.mu.Unlock()

	elapsed := time.Since(s.started)
	metrics.SessionClosed(string(s.role), outcome.String(), elapsed.Seconds())

	s.span.SetAttributes(attribute.String("session.outcome", outcome.String()))
	s.span.End()

	s.logger.Debug("session ended",
		zap.String("outcome", outcome.String()),
		zap.Duration("duration", elapsed),
	)
	s.publish(ev)
}

func (s *Session) publish(ev model.StreamEvent) {
	if s.observer == nil {
		return
	}
	s.observer(s.snapshot(ev))
}

func (s *Session) snapshot(ev model.StreamEvent) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID: s.id,
		Role:      s.role,
		Event:     ev,
		Text:      s.text.String(),
		Usage:     s.usage,
		Active:    !s.ended,
	}
	if s.ended {
		snap.Outcome = s.outcome.String()
	}
	return snap
}

func (s *Session) invalidate() {
	if s.invalidator != nil {
		s.invalidator.Invalidate(cache.MessagesKey(s.req.ConversationID), cache.ConversationsKey)
	}
}

func (s *Session) invalidateMessages() {
	if s.invalidator != nil {
		s.invalidator.Invalidate(cache.MessagesKey(s.req.ConversationID))
	}
}
