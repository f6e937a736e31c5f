package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/internal/stream"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
	"github.com/capitalize-ai/marketplace-stream/pkg/metrics"
	"github.com/capitalize-ai/marketplace-stream/pkg/tracing"
)

// ErrSessionActive is returned when a session is started while the previous
// one in the same slot is still streaming.
var ErrSessionActive = errors.New("a session is already streaming")

// Transport opens the frame stream for a request. A nil reader with a nil
// error means the response had no body.
type Transport interface {
	OpenStream(ctx context.Context, req *model.StreamRequest) (io.ReadCloser, error)
}

// Options configures a Controller. Every field is optional.
type Options struct {
	Invalidator cache.Invalidator
	Observer    Observer
	Notifier    Notifier
	Logger      *logger.Logger
	Tracer      trace.Tracer
}

// Controller starts sessions for one conversation view. It holds at most one
// primary and one compare session at a time.
type Controller struct {
	transport   Transport
	parser      *stream.Parser
	invalidator cache.Invalidator
	observer    Observer
	notifier    Notifier
	logger      *logger.Logger
	tracer      trace.Tracer

	mu      sync.Mutex
	primary *Session
	compare *Session
}

// NewController creates a controller over transport.
func NewController(transport Transport, opts Options) *Controller {
	log := logger.OrGlobal(opts.Logger)
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.Tracer("session")
	}

	return &Controller{
		transport:   transport,
		parser:      stream.NewParser(log),
		invalidator: opts.Invalidator,
		observer:    opts.Observer,
		notifier:    opts.Notifier,
		logger:      log,
		tracer:      tracer,
	}
}

// Start begins the primary session for req. It fails with ErrSessionActive
// while the previous primary session is streaming; callers Stop it first.
func (c *Controller) Start(ctx context.Context, req *model.StreamRequest) (*Session, error) {
	return c.start(ctx, req, RolePrimary)
}

// StartCompare begins a secondary session that runs next to the primary one.
// Its outcome never affects the primary session.
func (c *Controller) StartCompare(ctx context.Context, req *model.StreamRequest) (*Session, error) {
	return c.start(ctx, req, RoleCompare)
}

// Current returns the latest session of role, which may have ended.
func (c *Controller) Current(role Role) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.slot(role)
}

// StopAll stops both sessions.
func (c *Controller) StopAll() {
	for _, role := range []Role{RolePrimary, RoleCompare} {
		if s := c.Current(role); s != nil {
			s.Stop()
		}
	}
}

func (c *Controller) slot(role Role) **Session {
	if role == RoleCompare {
		return &c.compare
	}
	return &c.primary
}

func (c *Controller) start(ctx context.Context, req *model.StreamRequest, role Role) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	slot := c.slot(role)
	if cur := *slot; cur != nil && cur.Active() {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}

	id := uuid.NewString()
	sctx, span := c.tracer.Start(ctx, "stream.session", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("session.role", string(role)),
		attribute.String("conversation.id", req.ConversationID),
		attribute.String("request.mode", string(req.Mode)),
		attribute.String("request.model", req.Model),
		attribute.Bool("request.attachments", len(req.Attachments) > 0),
	))
	sctx, cancel := context.WithCancel(sctx)

	s := &Session{
		id:          id,
		role:        role,
		req:         req,
		started:     time.Now(),
		transport:   c.transport,
		parser:      c.parser,
		invalidator: c.invalidator,
		observer:    c.observer,
		notifier:    c.notifier,
		logger:      c.logger.WithSession(req.ConversationID, id, string(role)),
		span:        span,
		ctx:         sctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	*slot = s
	c.mu.Unlock()

	metrics.SessionOpened(string(role))
	s.logger.Info("session started",
		zap.String("mode", string(req.Mode)),
		zap.String("model", req.Model),
		zap.Int("attachments", len(req.Attachments)),
		zap.Bool("follow_up", req.IsFollowUp()),
	)

	go s.run()
	return s, nil
}
