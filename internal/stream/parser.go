// Package stream decodes the backend's newline-delimited "data: {json}" frame
// protocol into typed events.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
	"github.com/capitalize-ai/marketplace-stream/pkg/metrics"
)

const dataPrefix = "data: "

// Outcome is how a call to Parse ended.
type Outcome int

const (
	// OutcomeDone means the done handler fired, either for a done frame or at end-of-stream.
	OutcomeDone Outcome = iota
	// OutcomeError means the error handler fired.
	OutcomeError
	// OutcomeCancelled means the caller's context ended the parse; no terminal handler fired.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Handlers receive decoded events. Nil handlers are skipped.
type Handlers struct {
	OnDelta            func(content string)
	OnUsage            func(ev model.UsageEvent)
	OnDone             func()
	OnError            func(message string)
	OnCompressed       func()
	OnMemorySuggestion func(content string)
}

// ErrMalformedFrame is returned by DecodeFrame for payloads that are not a JSON frame object.
var ErrMalformedFrame = errors.New("malformed stream frame")

// Parser decodes frame streams.
type Parser struct {
	logger *logger.Logger
}

// NewParser creates a parser that logs dropped frames and read failures to log.
func NewParser(log *logger.Logger) *Parser {
	return &Parser{logger: logger.OrGlobal(log)}
}

// Parse reads body until a terminal frame, end-of-stream, a read failure, or
// cancellation of ctx. Unless ctx is cancelled, exactly one of OnDone or
// OnError fires. Bytes after a terminal frame are never read.
func (p *Parser) Parse(ctx context.Context, body io.Reader, h Handlers) Outcome {
	if body == nil {
		h.fail(model.NoResponseMessage)
		return OutcomeError
	}

	reader := bufio.NewReader(body)

	for {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled
			}
			if errors.Is(err, io.EOF) {
				// An unterminated trailing fragment is not a record.
				h.done()
				return OutcomeDone
			}
			p.logger.Warn("stream read failed", zap.Error(err))
			h.fail(model.DefaultErrorMessage)
			return OutcomeError
		}

		ev, ok := p.decodeLine(line)
		if !ok {
			continue
		}

		switch e := ev.(type) {
		case model.DeltaEvent:
			if h.OnDelta != nil {
				h.OnDelta(e.Content)
			}
		case model.UsageEvent:
			if h.OnUsage != nil {
				h.OnUsage(e)
			}
		case model.DoneEvent:
			h.done()
			return OutcomeDone
		case model.ErrorEvent:
			h.fail(e.Message)
			return OutcomeError
		case model.CompressedEvent:
			if h.OnCompressed != nil {
				h.OnCompressed()
			}
		case model.MemorySuggestionEvent:
			if h.OnMemorySuggestion != nil {
				h.OnMemorySuggestion(e.Content)
			}
		default:
		}
	}
}

// decodeLine returns the event carried by one line, or false when the line
// is insignificant, malformed, or of an unknown type.
func (p *Parser) decodeLine(line string) (model.StreamEvent, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return nil, false
	}

	ev, err := DecodeFrame([]byte(line[len(dataPrefix):]))
	if err != nil {
		metrics.StreamFramesDropped.Inc()
		p.logger.Debug("dropping malformed frame", zap.Error(err))
		return nil, false
	}
	if ev == nil {
		return nil, false
	}

	metrics.RecordFrame(string(ev.Type()))
	return ev, true
}

// DecodeFrame decodes one frame payload. Unknown types decode to (nil, nil);
// a memory suggestion without content is treated as unknown.
func DecodeFrame(data []byte) (model.StreamEvent, error) {
	var head struct {
		Type model.EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch head.Type {
	case model.EventTypeDelta:
		var ev model.DeltaEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return ev, nil

	case model.EventTypeUsage:
		var ev model.UsageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		ev.Raw = append(json.RawMessage(nil), data...)
		return ev, nil

	case model.EventTypeDone:
		return model.DoneEvent{}, nil

	case model.EventTypeError:
		var ev model.ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return ev, nil

	case model.EventTypeCompressed:
		return model.CompressedEvent{}, nil

	case model.EventTypeMemorySuggestion:
		var ev model.MemorySuggestionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if ev.Content == "" {
			return nil, nil
		}
		return ev, nil

	default:
		return nil, nil
	}
}

func (h Handlers) done() {
	if h.OnDone != nil {
		h.OnDone()
	}
}

func (h Handlers) fail(message string) {
	if message == "" {
		message = model.DefaultErrorMessage
	}
	if h.OnError != nil {
		h.OnError(message)
	}
}
