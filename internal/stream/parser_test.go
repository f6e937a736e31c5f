package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

// recorder collects every handler invocation in order.
type recorder struct {
	deltas      []string
	usages      []model.UsageEvent
	dones       int
	errors      []string
	compressed  int
	suggestions []string
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnDelta:            func(c string) { r.deltas = append(r.deltas, c) },
		OnUsage:            func(u model.UsageEvent) { r.usages = append(r.usages, u) },
		OnDone:             func() { r.dones++ },
		OnError:            func(m string) { r.errors = append(r.errors, m) },
		OnCompressed:       func() { r.compressed++ },
		OnMemorySuggestion: func(c string) { r.suggestions = append(r.suggestions, c) },
	}
}

func (r *recorder) text() string {
	return strings.Join(r.deltas, "")
}

func (r *recorder) terminals() int {
	return r.dones + len(r.errors)
}

// chunkReader returns its input in fixed-size pieces.
type chunkReader struct {
	data []byte
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.size
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

// trapReader fails the test if it is ever read.
type trapReader struct {
	t *testing.T
}

func (r trapReader) Read(p []byte) (int, error) {
	r.t.Errorf("read after terminal frame")
	return 0, io.EOF
}

func newTestParser() *Parser {
	return NewParser(logger.NewNop())
}

func TestParseExampleStream(t *testing.T) {
	input := "data: {\"type\":\"delta\",\"content\":\"Hel\"}\n" +
		"data: {\"type\":\"delta\",\"content\":\"lo\"}\n" +
		"data: {\"type\":\"usage\",\"model\":\"x\",\"coinCost\":2}\n" +
		"data: {\"type\":\"done\"}\n" +
		"data: {\"type\":\"delta\",\"content\":\"ignored\"}\n"

	var rec recorder
	outcome := newTestParser().Parse(context.Background(), strings.NewReader(input), rec.handlers())

	assert.Equal(t, OutcomeDone, outcome)
	assert.Equal(t, []string{"Hel", "lo"}, rec.deltas)
	assert.Equal(t, "Hello", rec.text())
	require.Len(t, rec.usages, 1)
	assert.Equal(t, "x", rec.usages[0].Model)
	require.NotNil(t, rec.usages[0].CoinCost)
	assert.Equal(t, 2.0, *rec.usages[0].CoinCost)
	assert.Equal(t, 1, rec.dones)
	assert.Empty(t, rec.errors)
}

func TestParseOrderingAcrossFragmentation(t *testing.T) {
	contents := []string{"The ", "quick ", "brown ", "fox ", "jumps ", "— ", "über ", "😀", ""}
	var b strings.Builder
	for _, c := range contents {
		b.WriteString(`data: {"type":"delta","content":"` + c + "\"}\n")
	}
	b.WriteString("data: {\"type\":\"done\"}\n")
	input := b.String()
	want := strings.Join(contents, "")

	for _, size := range []int{1, 2, 3, 5, 7, 13, 64, len(input)} {
		var rec recorder
		outcome := newTestParser().Parse(context.Background(), &chunkReader{data: []byte(input), size: size}, rec.handlers())
		assert.Equal(t, OutcomeDone, outcome, "chunk size %d", size)
		assert.Equal(t, want, rec.text(), "chunk size %d", size)
		assert.Equal(t, 1, rec.terminals(), "chunk size %d", size)
	}

	var rec recorder
	newTestParser().Parse(context.Background(), iotest.OneByteReader(strings.NewReader(input)), rec.handlers())
	assert.Equal(t, want, rec.text())
}

func TestParseMalformedFramesIgnored(t *testing.T) {
	clean := "data: {\"type\":\"delta\",\"content\":\"a\"}\n" +
		"data: {\"type\":\"delta\",\"content\":\"b\"}\n"
	noisy := "data: not-json\n" +
		"data: {\"type\":\"delta\",\"content\":\"a\"}\n" +
		"data: {\"type\":\"delta\",\n" +
		"\n" +
		": keep-alive\n" +
		"event: ping\n" +
		"data: 42\n" +
		"data: {\"type\":\"delta\",\"content\":7}\n" +
		"data: {\"type\":\"delta\",\"content\":\"b\"}\n" +
		"data:{\"type\":\"delta\",\"content\":\"no-space\"}\n"

	var cleanRec, noisyRec recorder
	newTestParser().Parse(context.Background(), strings.NewReader(clean), cleanRec.handlers())
	newTestParser().Parse(context.Background(), strings.NewReader(noisy), noisyRec.handlers())

	assert.Equal(t, "ab", cleanRec.text())
	assert.Equal(t, cleanRec.text(), noisyRec.text())
	assert.Equal(t, 1, noisyRec.dones)
}

func TestParseNotJSONThenDelta(t *testing.T) {
	input := "data: not-json\ndata: {\"type\":\"delta\",\"content\":\"ok\"}\n"

	var rec recorder
	newTestParser().Parse(context.Background(), strings.NewReader(input), rec.handlers())

	assert.Equal(t, []string{"ok"}, rec.deltas)
}

func TestParseEndOfStreamSynthesizesDone(t *testing.T) {
	input := "data: {\"type\":\"delta\",\"content\":\"partial\"}\n"

	var rec recorder
	outcome := newTestParser().Parse(context.Background(), strings.NewReader(input), rec.handlers())

	assert.Equal(t, OutcomeDone, outcome)
	assert.Equal(t, []string{"partial"}, rec.deltas)
	assert.Equal(t, 1, rec.dones)
	assert.Empty(t, rec.errors)
}

func TestParseDiscardsUnterminatedTail(t *testing.T) {
	input := "data: {\"type\":\"delta\",\"content\":\"kept\"}\ndata: {\"type\":\"delta\",\"content\":\"lost\"}"

	var rec recorder
	newTestParser().Parse(context.Background(), strings.NewReader(input), rec.handlers())

	assert.Equal(t, []string{"kept"}, rec.deltas)
	assert.Equal(t, 1, rec.dones)
}

func TestParseStopsAfterTerminalFrame(t *testing.T) {
	t.Run("done", func(t *testing.T) {
		body := io.MultiReader(strings.NewReader("data: {\"type\":\"done\"}\n"), trapReader{t: t})
		var rec recorder
		outcome := newTestParser().Parse(context.Background(), body, rec.handlers())
		assert.Equal(t, OutcomeDone, outcome)
		assert.Equal(t, 1, rec.dones)
	})

	t.Run("error", func(t *testing.T) {
		body := io.MultiReader(strings.NewReader("data: {\"type\":\"error\",\"message\":\"insufficient coins\"}\n"), trapReader{t: t})
		var rec recorder
		outcome := newTestParser().Parse(context.Background(), body, rec.handlers())
		assert.Equal(t, OutcomeError, outcome)
		assert.Equal(t, []string{"insufficient coins"}, rec.errors)
		assert.Zero(t, rec.dones)
	})
}

func TestParseErrorFallbackMessage(t *testing.T) {
	var rec recorder
	newTestParser().Parse(context.Background(), strings.NewReader("data: {\"type\":\"error\"}\n"), rec.handlers())

	assert.Equal(t, []string{model.DefaultErrorMessage}, rec.errors)
}

func TestParseNilBody(t *testing.T) {
	var rec recorder
	outcome := newTestParser().Parse(context.Background(), nil, rec.handlers())

	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, []string{model.NoResponseMessage}, rec.errors)
	assert.Zero(t, rec.dones)
}

func TestParseReadFailureReportedOnce(t *testing.T) {
	body := io.MultiReader(
		strings.NewReader("data: {\"type\":\"delta\",\"content\":\"x\"}\n"),
		iotest.ErrReader(errors.New("connection reset")),
	)

	var rec recorder
	outcome := newTestParser().Parse(context.Background(), body, rec.handlers())

	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, []string{"x"}, rec.deltas)
	assert.Len(t, rec.errors, 1)
	assert.Zero(t, rec.dones)
}

func TestParseNonTerminalNotices(t *testing.T) {
	input := "data: {\"type\":\"compressed\"}\n" +
		"data: {\"type\":\"memory_suggestion\",\"content\":\"likes tea\"}\n" +
		"data: {\"type\":\"memory_suggestion\"}\n" +
		"data: {\"type\":\"memory_suggestion\",\"content\":\"\"}\n" +
		"data: {\"type\":\"tool_call\",\"name\":\"search\"}\n" +
		"data: {\"type\":\"delta\",\"content\":\"still going\"}\n" +
		"data: {\"type\":\"done\"}\n"

	var rec recorder
	newTestParser().Parse(context.Background(), strings.NewReader(input), rec.handlers())

	assert.Equal(t, 1, rec.compressed)
	assert.Equal(t, []string{"likes tea"}, rec.suggestions)
	assert.Equal(t, "still going", rec.text())
	assert.Equal(t, 1, rec.dones)
}

func TestParseOptionalHandlersMayBeNil(t *testing.T) {
	input := "data: {\"type\":\"compressed\"}\ndata: {\"type\":\"memory_suggestion\",\"content\":\"x\"}\ndata: {\"type\":\"usage\"}\n"

	done := 0
	outcome := newTestParser().Parse(context.Background(), strings.NewReader(input), Handlers{
		OnDone: func() { done++ },
	})

	assert.Equal(t, OutcomeDone, outcome)
	assert.Equal(t, 1, done)
}

func TestParseCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	var rec recorder
	result := make(chan Outcome, 1)
	go func() {
		result <- newTestParser().Parse(ctx, pr, rec.handlers())
	}()

	_, err := pw.Write([]byte("data: {\"type\":\"delta\",\"content\":\"a\"}\n"))
	require.NoError(t, err)

	cancel()
	pw.CloseWithError(context.Canceled)

	assert.Equal(t, OutcomeCancelled, <-result)
	assert.Equal(t, 0, rec.terminals())
}

func TestParseCRLFLines(t *testing.T) {
	input := "data: {\"type\":\"delta\",\"content\":\"win\"}\r\n\r\ndata: {\"type\":\"done\"}\r\n"

	var rec recorder
	newTestParser().Parse(context.Background(), strings.NewReader(input), rec.handlers())

	assert.Equal(t, "win", rec.text())
	assert.Equal(t, 1, rec.dones)
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    model.StreamEvent
		wantErr bool
	}{
		{name: "delta without content", payload: `{"type":"delta"}`, want: model.DeltaEvent{}},
		{name: "error", payload: `{"type":"error","message":"boom"}`, want: model.ErrorEvent{Message: "boom"}},
		{name: "done", payload: `{"type":"done"}`, want: model.DoneEvent{}},
		{name: "unknown", payload: `{"type":"future"}`, want: nil},
		{name: "missing type", payload: `{"content":"x"}`, want: nil},
		{name: "null", payload: `null`, want: nil},
		{name: "array", payload: `[1,2]`, wantErr: true},
		{name: "garbage", payload: `{{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFrameUsageKeepsRaw(t *testing.T) {
	payload := `{"type":"usage","model":"m","coinCost":1.5,"tokens":12}`

	ev, err := DecodeFrame([]byte(payload))
	require.NoError(t, err)

	usage, ok := ev.(model.UsageEvent)
	require.True(t, ok)
	assert.Equal(t, "m", usage.Model)
	assert.Equal(t, 1.5, *usage.CoinCost)
	assert.JSONEq(t, payload, string(usage.Raw))
}
