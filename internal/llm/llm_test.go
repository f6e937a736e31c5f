package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
)

func TestEchoStreamsWordsInOrder(t *testing.T) {
	c := NewEchoClient(0)

	var tokens []string
	resp, err := c.Stream(context.Background(), &Request{
		Messages: []ChatMessage{
			{Role: "user", Content: "first"},
			{Role: "assistant", Content: "You said: first"},
			{Role: "user", Content: "hello there"},
		},
	}, func(token string) error {
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"You ", "said: ", "hello ", "there"}, tokens)
	assert.Equal(t, "You said: hello there", resp.Content)
	assert.Equal(t, "echo", resp.Model)
	assert.Equal(t, 4, resp.TokensOut)
	assert.Equal(t, 1+3+2, resp.TokensIn)
	assert.Equal(t, 10, resp.Tokens())
}

func TestEchoFailPrefix(t *testing.T) {
	c := NewEchoClient(0)

	calls := 0
	_, err := c.Stream(context.Background(), &Request{
		Messages: []ChatMessage{{Role: "user", Content: EchoFailPrefix + " please"}},
	}, func(string) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, ErrEchoFailure)
	assert.Equal(t, 1, calls)
}

func TestEchoStopsOnCallbackError(t *testing.T) {
	c := NewEchoClient(0)
	stop := errors.New("client gone")

	_, err := c.Stream(context.Background(), &Request{
		Messages: []ChatMessage{{Role: "user", Content: "a b c"}},
	}, func(string) error { return stop })

	assert.ErrorIs(t, err, stop)
}

func TestEchoHonoursCancellation(t *testing.T) {
	c := NewEchoClient(50 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := c.Stream(ctx, &Request{
		Messages: []ChatMessage{{Role: "user", Content: "one two three four"}},
	}, func(string) error {
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClientRequiresKeys(t *testing.T) {
	_, err := NewClient(ProviderAnthropic, "")
	assert.Error(t, err)
	_, err = NewClient(ProviderOpenAI, "")
	assert.Error(t, err)
	_, err = NewClient("mystery", "key")
	assert.Error(t, err)

	c, err := NewClient(ProviderEcho, "")
	require.NoError(t, err)
	assert.Equal(t, "echo", c.Name())
}

func TestRouterResolve(t *testing.T) {
	echo := NewEchoClient(0)
	openai, err := NewOpenAIClient("sk-test")
	require.NoError(t, err)

	r := NewRouter(echo, openai)

	c, id := r.Resolve(model.ModeEconomy, "")
	assert.Equal(t, "openai", c.Name())
	assert.Equal(t, "gpt-4o-mini", id)

	c, id = r.Resolve(model.ModePremium, "")
	assert.Equal(t, "echo", c.Name())
	assert.Equal(t, "claude-3-5-sonnet-20241022", id)

	c, id = r.Resolve("", "gpt-4o")
	assert.Equal(t, "openai", c.Name())
	assert.Equal(t, "gpt-4o", id)

	_, id = r.Resolve("", "")
	assert.Equal(t, DefaultModes[model.ModeStandard], id)
}
