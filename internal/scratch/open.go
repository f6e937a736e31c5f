package scratch

import (
	"fmt"
	"io"

	"github.com/nats-io/nats.go/jetstream"
)

// OpenOptions configures OpenBackend.
type OpenOptions struct {
	Dir       string
	SQLiteDSN string
	// KeyValue is required for the "nats" backend.
	KeyValue jetstream.KeyValue
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenBackend opens the backend named kind: memory, file, sqlite or nats.
// The returned closer releases it.
func OpenBackend(kind string, opts OpenOptions) (Backend, io.Closer, error) {
	switch kind {
	case "", "memory":
		return NewMemoryBackend(), nopCloser{}, nil
	case "file":
		b, err := NewFileBackend(opts.Dir)
		if err != nil {
			return nil, nil, err
		}
		return b, nopCloser{}, nil
	case "sqlite":
		b, err := NewSQLiteBackend(opts.SQLiteDSN)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case "nats":
		if opts.KeyValue == nil {
			return nil, nil, fmt.Errorf("%w: nats backend needs a key-value bucket", ErrUnavailable)
		}
		return NewKVBackend(opts.KeyValue), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown scratch backend %q", kind)
	}
}
