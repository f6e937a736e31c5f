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

// Settings stores one JSON value per scope, e.g. "agent.tutor" or "ui".
type Settings struct {
	backend Backend
	logger  *logger.Logger
}

// NewSettings creates a settings repository.
func NewSettings(b Backend, log *logger.Logger) *Settings {
	return &Settings{backend: b, logger: logger.OrGlobal(log)}
}

// Get decodes the value stored for scope into v and reports whether one was
// found. Missing or corrupt values leave v untouched.
func (s *Settings) Get(ctx context.Context, scope string, v any) bool {
	key := settingsPrefix + scope
	if s.backend == nil || ValidateKey(key) != nil {
		return false
	}

	data, err := s.backend.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("settings read failed", zap.String("scope", scope), zap.Error(err))
		}
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// Set stores v for scope.
func (s *Settings) Set(ctx context.Context, scope string, v any) error {
	key := settingsPrefix + scope
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.backend == nil {
		return ErrUnavailable
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	err = s.backend.Save(ctx, key, data)
	metrics.RecordScratchWrite("settings", err)
	if err != nil {
		return fmt.Errorf("failed to save settings %s: %w", scope, err)
	}
	return nil
}
