package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/marketplace-stream/internal/api"
	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/internal/stream"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

const exampleStream = "data: {\"type\":\"delta\",\"content\":\"Hel\"}\n" +
	"data: {\"type\":\"delta\",\"content\":\"lo\"}\n" +
	"data: {\"type\":\"usage\",\"model\":\"x\",\"coinCost\":2}\n" +
	"data: {\"type\":\"done\"}\n"

type transportFunc func(ctx context.Context, req *model.StreamRequest) (io.ReadCloser, error)

func (f transportFunc) OpenStream(ctx context.Context, req *model.StreamRequest) (io.ReadCloser, error) {
	return f(ctx, req)
}

func body(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

type recorder struct {
	mu          sync.Mutex
	snapshots   []Snapshot
	notices     []string
	invalidated []string
	updates     chan Snapshot
}

func newRecorder() *recorder {
	return &recorder{updates: make(chan Snapshot, 64)}
}

func (r *recorder) options() Options {
	return Options{
		Observer: func(s Snapshot) {
			r.mu.Lock()
			r.snapshots = append(r.snapshots, s)
			r.mu.Unlock()
			r.updates <- s
		},
		Notifier: func(role Role, message string) {
			r.mu.Lock()
			r.notices = append(r.notices, string(role)+": "+message)
			r.mu.Unlock()
		},
		Invalidator: cache.InvalidatorFunc(func(keys ...string) {
			r.mu.Lock()
			r.invalidated = append(r.invalidated, keys...)
			r.mu.Unlock()
		}),
		Logger: logger.NewNop(),
	}
}

func (r *recorder) snapshotsFor(role Role) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Snapshot
	for _, s := range r.snapshots {
		if s.Role == role {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) invalidations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.invalidated...)
}

func (r *recorder) notifications() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

func (r *recorder) waitFor(t *testing.T, match func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.updates:
			if match(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
			return Snapshot{}
		}
	}
}

func request(convID string) *model.StreamRequest {
	return &model.StreamRequest{ConversationID: convID, Message: "hi", Mode: model.ModeStandard}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestSessionAccumulatesDeltasAndInvalidatesOnDone(t *testing.T) {
	rec := newRecorder()
	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return body(exampleStream), nil
	}), rec.options())

	s, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)
	waitDone(t, s)

	snaps := rec.snapshotsFor(RolePrimary)
	require.Len(t, snaps, 4)
	assert.Equal(t, "Hel", snaps[0].Text)
	assert.Equal(t, "Hello", snaps[1].Text)
	require.NotNil(t, snaps[2].Usage)
	assert.Equal(t, "x", snaps[2].Usage.Model)
	assert.Equal(t, 2.0, *snaps[2].Usage.CoinCost)

	final := snaps[3]
	assert.False(t, final.Active)
	assert.Empty(t, final.Text)
	assert.Equal(t, "done", final.Outcome)
	assert.IsType(t, model.DoneEvent{}, final.Event)

	assert.False(t, s.Active())
	assert.Equal(t, stream.OutcomeDone, s.Outcome())
	assert.Empty(t, s.Text())
	require.NotNil(t, s.Usage())
	assert.ElementsMatch(t, []string{cache.MessagesKey("c1"), cache.ConversationsKey}, rec.invalidations())
	assert.Empty(t, rec.notifications())
}

func TestSessionSynthesizesDoneAtEndOfStream(t *testing.T) {
	rec := newRecorder()
	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return body("data: {\"type\":\"delta\",\"content\":\"partial\"}\n"), nil
	}), rec.options())

	s, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, stream.OutcomeDone, s.Outcome())
	assert.Contains(t, rec.invalidations(), cache.ConversationsKey)
}

func TestSessionErrorFrameNotifiesAndDiscardsText(t *testing.T) {
	rec := newRecorder()
	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return body("data: {\"type\":\"delta\",\"content\":\"half\"}\ndata: {\"type\":\"error\",\"message\":\"insufficient coins\"}\n"), nil
	}), rec.options())

	s, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, stream.OutcomeError, s.Outcome())
	assert.Empty(t, s.Text())
	assert.Equal(t, []string{"primary: insufficient coins"}, rec.notifications())
	assert.Equal(t, []string{cache.MessagesKey("c1")}, rec.invalidations())
}

func TestSessionOpenFailureUsesBackendMessage(t *testing.T) {
	rec := newRecorder()
	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return nil, &api.APIError{StatusCode: http.StatusPaymentRequired, Message: "not enough coins"}
	}), rec.options())

	s, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, stream.OutcomeError, s.Outcome())
	assert.Equal(t, []string{"primary: not enough coins"}, rec.notifications())
}

func TestSessionTransportErrorUsesGenericMessage(t *testing.T) {
	rec := newRecorder()
	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return nil, errors.New("connection refused")
	}), rec.options())

	s, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, []string{"primary: " + model.DefaultErrorMessage}, rec.notifications())
}

func TestSessionWithoutBodyReportsNoResponse(t *testing.T) {
	rec := newRecorder()
	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return nil, nil
	}), rec.options())

	s, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, []string{"primary: " + model.NoResponseMessage}, rec.notifications())
}

func TestStartRejectsWhileActive(t *testing.T) {
	rec := newRecorder()
	pr, pw := io.Pipe()
	defer pw.Close()

	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return pr, nil
	}), rec.options())

	first, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)

	_, err = c.Start(context.Background(), request("c1"))
	assert.ErrorIs(t, err, ErrSessionActive)

	first.Stop()

	c.transport = transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return body(exampleStream), nil
	})
	second, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)
	waitDone(t, second)
	assert.Equal(t, stream.OutcomeDone, second.Outcome())
}

func TestStartRejectsInvalidRequest(t *testing.T) {
	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		t.Fatal("transport must not be called")
		return nil, nil
	}), Options{Logger: logger.NewNop()})

	_, err := c.Start(context.Background(), &model.StreamRequest{ConversationID: "c1", Mode: "turbo", Message: "x"})
	assert.ErrorIs(t, err, model.ErrUnknownMode)
}

func TestStopIsSynchronousAndIdempotent(t *testing.T) {
	rec := newRecorder()
	pr, pw := io.Pipe()
	defer pw.Close()

	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return pr, nil
	}), rec.options())

	s, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)

	_, err = io.WriteString(pw, "data: {\"type\":\"delta\",\"content\":\"par\"}\n")
	require.NoError(t, err)
	rec.waitFor(t, func(s Snapshot) bool { return s.Text == "par" })

	s.Stop()
	assert.False(t, s.Active())
	assert.Equal(t, stream.OutcomeCancelled, s.Outcome())
	assert.Empty(t, s.Text())

	countAfterStop := len(rec.snapshotsFor(RolePrimary))

	// The transport is closed; nothing written later is delivered.
	_, err = io.WriteString(pw, "data: {\"type\":\"delta\",\"content\":\"tial\"}\n")
	assert.Error(t, err)

	s.Stop()
	waitDone(t, s)
	s.Stop()

	assert.Len(t, rec.snapshotsFor(RolePrimary), countAfterStop)
	assert.Equal(t, "cancelled", rec.snapshotsFor(RolePrimary)[countAfterStop-1].Outcome)
	assert.ElementsMatch(t, []string{cache.MessagesKey("c1"), cache.ConversationsKey}, rec.invalidations())
	assert.Empty(t, rec.notifications())
}

func TestStopWithoutTextSkipsInvalidation(t *testing.T) {
	rec := newRecorder()
	pr, pw := io.Pipe()
	defer pw.Close()

	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return pr, nil
	}), rec.options())

	s, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)
	s.Stop()
	waitDone(t, s)

	assert.Empty(t, rec.invalidations())
}

func TestStopAfterCompletionIsNoop(t *testing.T) {
	rec := newRecorder()
	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return body(exampleStream), nil
	}), rec.options())

	s, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)
	waitDone(t, s)

	before := len(rec.snapshotsFor(RolePrimary))
	s.Stop()
	s.Stop()

	assert.Equal(t, stream.OutcomeDone, s.Outcome())
	assert.Len(t, rec.snapshotsFor(RolePrimary), before)
}

func TestCallerCancellationEndsSession(t *testing.T) {
	rec := newRecorder()
	pr, pw := io.Pipe()
	defer pw.Close()

	c := NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return pr, nil
	}), rec.options())

	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.Start(ctx, request("c1"))
	require.NoError(t, err)

	cancel()
	pr.CloseWithError(context.Canceled)
	waitDone(t, s)

	assert.Equal(t, stream.OutcomeCancelled, s.Outcome())
	assert.Empty(t, rec.notifications())
}

func TestCompareFailureLeavesPrimaryRunning(t *testing.T) {
	rec := newRecorder()
	pr, pw := io.Pipe()
	defer pw.Close()

	c := NewController(transportFunc(func(_ context.Context, req *model.StreamRequest) (io.ReadCloser, error) {
		if req.Model == "other-model" {
			return body("data: {\"type\":\"error\",\"message\":\"model offline\"}\n"), nil
		}
		return pr, nil
	}), rec.options())

	primary, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)

	compareReq := request("c1")
	compareReq.Mode = ""
	compareReq.Model = "other-model"
	compare, err := c.StartCompare(context.Background(), compareReq)
	require.NoError(t, err)
	waitDone(t, compare)

	assert.Equal(t, stream.OutcomeError, compare.Outcome())
	assert.True(t, primary.Active())
	assert.Equal(t, []string{"compare: model offline"}, rec.notifications())

	_, err = io.WriteString(pw, "data: {\"type\":\"delta\",\"content\":\"still here\"}\ndata: {\"type\":\"done\"}\n")
	require.NoError(t, err)
	waitDone(t, primary)

	assert.Equal(t, stream.OutcomeDone, primary.Outcome())
	texts := []string{}
	for _, s := range rec.snapshotsFor(RolePrimary) {
		texts = append(texts, s.Text)
	}
	assert.Contains(t, texts, "still here")
}

func TestNotifierStopsSessionsFromAnotherGoroutine(t *testing.T) {
	stopped := make(chan struct{})
	var c *Controller
	c = NewController(transportFunc(func(context.Context, *model.StreamRequest) (io.ReadCloser, error) {
		return body("data: {\"type\":\"error\",\"message\":\"boom\"}\n"), nil
	}), Options{
		Logger: logger.NewNop(),
		Notifier: func(Role, string) {
			go func() {
				c.StopAll()
				close(stopped)
			}()
		},
	})

	s, err := c.Start(context.Background(), request("c1"))
	require.NoError(t, err)
	waitDone(t, s)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAll did not return")
	}
	assert.Equal(t, stream.OutcomeError, s.Outcome())
}
