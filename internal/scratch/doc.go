package scratch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
	"github.com/capitalize-ai/marketplace-stream/pkg/metrics"
)

// Doc is a single JSON object stored under a fixed key.
type Doc[T any] struct {
	backend Backend
	key     string
	logger  *logger.Logger
}

// NewDoc creates a document store.
func NewDoc[T any](b Backend, key string, log *logger.Logger) *Doc[T] {
	return &Doc[T]{
		backend: b,
		key:     key,
		logger:  logger.OrGlobal(log).With(zap.String("store", key)),
	}
}

// Get returns the stored object, or the zero value.
func (d *Doc[T]) Get(ctx context.Context) T {
	var v T
	if d.backend == nil {
		return v
	}

	data, err := d.backend.Load(ctx, d.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.logger.Warn("scratch read failed", zap.Error(err))
		}
		return v
	}
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero
	}
	return v
}

// Set replaces the stored object.
func (d *Doc[T]) Set(ctx context.Context, v T) error {
	if d.backend == nil {
		return ErrUnavailable
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", d.key, err)
	}

	err = d.backend.Save(ctx, d.key, data)
	metrics.RecordScratchWrite(d.key, err)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", d.key, err)
	}
	return nil
}
