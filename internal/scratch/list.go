package scratch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
	"github.com/capitalize-ai/marketplace-stream/pkg/metrics"
)

// Record is an entry of a list store.
type Record interface {
	RecordID() string
}

// RecordPtr lets a list assign ids to new records.
type RecordPtr[T any] interface {
	*T
	SetRecordID(id string)
}

// List is a record list persisted as one JSON array under a fixed key.
type List[T Record, P RecordPtr[T]] struct {
	mu      sync.Mutex
	backend Backend
	key     string
	logger  *logger.Logger
	newID   func() string
}

// NewList creates a list store. A nil backend reads as empty and rejects writes.
func NewList[T Record, P RecordPtr[T]](b Backend, key string, log *logger.Logger) *List[T, P] {
	return &List[T, P]{
		backend: b,
		key:     key,
		logger:  logger.OrGlobal(log).With(zap.String("store", key)),
		newID:   shortuuid.New,
	}
}

// Key returns the store key.
func (l *List[T, P]) Key() string {
	return l.key
}

// All returns every record, or an empty list when nothing usable is stored.
func (l *List[T, P]) All(ctx context.Context) []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

// Add assigns a fresh id to rec when it has none or its id is taken,
// appends it and rewrites the list.
func (l *List[T, P]) Add(ctx context.Context, rec T) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backend == nil {
		return rec, ErrUnavailable
	}

	items := l.load(ctx)
	if id := rec.RecordID(); id == "" || indexOf(items, id) >= 0 {
		P(&rec).SetRecordID(l.uniqueID(items))
	}
	items = append(items, rec)

	return rec, l.save(ctx, items)
}

// Update replaces the record with the same id.
func (l *List[T, P]) Update(ctx context.Context, rec T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backend == nil {
		return ErrUnavailable
	}

	items := l.load(ctx)
	i := indexOf(items, rec.RecordID())
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, rec.RecordID())
	}
	items[i] = rec

	return l.save(ctx, items)
}

// Remove deletes the record with id. Removing an unknown id still rewrites
// the list.
func (l *List[T, P]) Remove(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backend == nil {
		return ErrUnavailable
	}

	items := l.load(ctx)
	kept := items[:0]
	for _, item := range items {
		if item.RecordID() != id {
			kept = append(kept, item)
		}
	}

	return l.save(ctx, kept)
}

func (l *List[T, P]) load(ctx context.Context) []T {
	items := []T{}
	if l.backend == nil {
		return items
	}

	data, err := l.backend.Load(ctx, l.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.logger.Warn("scratch read failed", zap.Error(err))
		}
		return items
	}

	if err := json.Unmarshal(data, &items); err != nil {
		l.logger.Debug("discarding corrupt scratch data", zap.Error(err))
		return []T{}
	}
	if items == nil {
		items = []T{}
	}
	return items
}

func (l *List[T, P]) save(ctx context.Context, items []T) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", l.key, err)
	}

	err = l.backend.Save(ctx, l.key, data)
	metrics.RecordScratchWrite(l.key, err)
	if err != nil {
		l.logger.Warn("scratch write failed", zap.Error(err))
		return fmt.Errorf("failed to save %s: %w", l.key, err)
	}
	return nil
}

func (l *List[T, P]) uniqueID(items []T) string {
	for {
		id := l.newID()
		if indexOf(items, id) < 0 {
			return id
		}
	}
}

func indexOf[T Record](items []T, id string) int {
	for i, item := range items {
		if item.RecordID() == id {
			return i
		}
	}
	return -1
}

// Items returns All as an untyped value for encoding.
func (l *List[T, P]) Items(ctx context.Context) any {
	return l.All(ctx)
}

// AddJSON decodes one record from data and adds it.
func (l *List[T, P]) AddJSON(ctx context.Context, data []byte) (any, error) {
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	return l.Add(ctx, rec)
}

// Collection is the untyped view of a List used by transports.
type Collection interface {
	Key() string
	Items(ctx context.Context) any
	AddJSON(ctx context.Context, data []byte) (any, error)
	Remove(ctx context.Context, id string) error
}
