package stream

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
)

// WriteFrame writes ev as one "data: {json}" record followed by a blank line.
// Usage frames keep the fields they were received with.
func WriteFrame(w io.Writer, ev model.StreamEvent) error {
	var data []byte
	if u, ok := ev.(model.UsageEvent); ok && len(u.Raw) > 0 {
		data = u.Raw
	} else {
		var err error
		data, err = json.Marshal(model.FrameOf(ev))
		if err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "%s%s\n\n", dataPrefix, data)
	return err
}
