package nats

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
	"github.com/capitalize-ai/marketplace-stream/pkg/metrics"
)

// DefaultInvalidationSubject carries invalidated cache keys between processes.
const DefaultInvalidationSubject = "cache.invalidate"

type invalidation struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys"`
}

// InvalidationBus shares cache invalidations between relay instances.
// It implements cache.Invalidator.
type InvalidationBus struct {
	conn    *nats.Conn
	subject string
	origin  string
	logger  *logger.Logger
}

// NewInvalidationBus creates a bus on subject.
func NewInvalidationBus(conn *nats.Conn, subject string, log *logger.Logger) *InvalidationBus {
	if subject == "" {
		subject = DefaultInvalidationSubject
	}
	return &InvalidationBus{
		conn:    conn,
		subject: subject,
		origin:  uuid.NewString(),
		logger:  logger.OrGlobal(log).With(zap.String("subject", subject)),
	}
}

// Invalidate publishes keys to the other instances. Failures are logged;
// the local cache has already been invalidated by the caller.
func (b *InvalidationBus) Invalidate(keys ...string) {
	if len(keys) == 0 || b.conn == nil {
		return
	}

	data, err := json.Marshal(invalidation{Origin: b.origin, Keys: keys})
	if err != nil {
		b.logger.Error("failed to marshal invalidation", zap.Error(err))
		return
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		b.logger.Warn("failed to publish invalidation", zap.Strings("keys", keys), zap.Error(err))
	}
}

// Subscribe applies invalidations published by other instances to target.
func (b *InvalidationBus) Subscribe(target cache.Invalidator) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		b.apply(msg.Data, target)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	return sub, nil
}

func (b *InvalidationBus) apply(data []byte, target cache.Invalidator) {
	var inv invalidation
	if err := json.Unmarshal(data, &inv); err != nil {
		b.logger.Debug("dropping malformed invalidation", zap.Error(err))
		return
	}
	if inv.Origin == b.origin || len(inv.Keys) == 0 {
		return
	}

	metrics.CacheInvalidationsTotal.WithLabelValues("remote").Add(float64(len(inv.Keys)))
	target.Invalidate(inv.Keys...)
}
