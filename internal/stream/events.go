package stream

import (
	"context"
	"io"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
)

// Events runs Parse on its own goroutine and delivers every event on the
// returned channel in arrival order. Unless ctx is cancelled, the last event
// is a DoneEvent or an ErrorEvent. The channel is closed when parsing ends.
func (p *Parser) Events(ctx context.Context, body io.Reader) <-chan model.StreamEvent {
	ch := make(chan model.StreamEvent, 16)

	send := func(ev model.StreamEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(ch)
		p.Parse(ctx, body, Handlers{
			OnDelta:            func(content string) { send(model.DeltaEvent{Content: content}) },
			OnUsage:            func(ev model.UsageEvent) { send(ev) },
			OnDone:             func() { send(model.DoneEvent{}) },
			OnError:            func(message string) { send(model.ErrorEvent{Message: message}) },
			OnCompressed:       func() { send(model.CompressedEvent{}) },
			OnMemorySuggestion: func(content string) { send(model.MemorySuggestionEvent{Content: content}) },
		})
	}()

	return ch
}
