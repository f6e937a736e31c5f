package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

// EchoFailPrefix makes the echo client fail after its first token, so error
// frames can be exercised without a real provider.
const EchoFailPrefix = "/fail"

// ErrEchoFailure is returned for prompts starting with EchoFailPrefix.
var ErrEchoFailure = errors.New("echo provider failure")

// EchoClient replies with the last user message, one word per token.
type EchoClient struct {
	delay time.Duration
}

// NewEchoClient creates an echo client that waits delay between tokens.
func NewEchoClient(delay time.Duration) *EchoClient {
	return &EchoClient{delay: delay}
}

func (c *EchoClient) Name() string { return string(ProviderEcho) }

func (c *EchoClient) Models() []string { return []string{"echo"} }

// Stream echoes the prompt.
func (c *EchoClient) Stream(ctx context.Context, req *Request, onToken TokenFunc) (*Completion, error) {
	start := time.Now()

	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			prompt = req.Messages[i].Content
			break
		}
	}

	model := req.Model
	if model == "" {
		model = "echo"
	}

	reply := "You said: " + prompt
	tokens := strings.SplitAfter(reply, " ")

	var content strings.Builder
	for i, token := range tokens {
		if i > 0 && c.delay > 0 {
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content.WriteString(token)
		if err := onToken(token); err != nil {
			return nil, err
		}
		if i == 0 && strings.HasPrefix(prompt, EchoFailPrefix) {
			return nil, ErrEchoFailure
		}
	}

	tokensIn := 0
	for _, m := range req.Messages {
		tokensIn += len(strings.Fields(m.Content))
	}

	return &Completion{
		Content:    content.String(),
		Model:      model,
		TokensIn:   tokensIn,
		TokensOut:  len(tokens),
		StopReason: "end_turn",
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
