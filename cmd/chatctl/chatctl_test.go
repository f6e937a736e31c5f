package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/marketplace-stream/internal/devstream"
	"github.com/capitalize-ai/marketplace-stream/internal/llm"
	"github.com/capitalize-ai/marketplace-stream/internal/middleware"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

// setupEnv points chatctl at an in-process emulator and a file workspace.
func setupEnv(t *testing.T) string {
	t.Helper()

	srv := devstream.NewServer(devstream.NewStore(), llm.NewRouter(llm.NewEchoClient(0)), devstream.Config{CoinRate: 1000}, logger.NewNop())
	r := chi.NewRouter()
	r.Use(middleware.Bearer())
	srv.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	t.Setenv("BACKEND_URL", ts.URL)
	t.Setenv("BACKEND_TOKEN", "alice")
	t.Setenv("SCRATCH_BACKEND", "file")
	t.Setenv("SCRATCH_DIR", filepath.Join(dir, "scratch"))
	return filepath.Join(dir, "missing.env")
}

func run(t *testing.T, envFile string, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env", envFile}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestSendStreamsReplyWithBadge(t *testing.T) {
	env := setupEnv(t)

	out, _, err := run(t, env, "-c", "c1", "send", "hello", "there")
	require.NoError(t, err)
	assert.Contains(t, out, "You said: hello there")
	assert.Contains(t, out, "coins]")

	out, _, err = run(t, env, "-c", "c1", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "you: hello there")
	assert.Contains(t, out, "assistant: You said: hello there")

	out, _, err = run(t, env, "history", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "c1")
	assert.Contains(t, out, "hello there")
}

func TestSendPrintsUpdatedHistory(t *testing.T) {
	env := setupEnv(t)

	out, _, err := run(t, env, "-c", "c2", "send", "--history", "what", "now")
	require.NoError(t, err)
	assert.Contains(t, out, "── conversation ──")
	assert.Contains(t, out, "you: what now")
	assert.Contains(t, out, "assistant: You said: what now")
	assert.NotContains(t, out, "(sending)")
}

func TestSendWithCompareModel(t *testing.T) {
	env := setupEnv(t)

	out, _, err := run(t, env, "-c", "c1", "send", "--compare-model", "gpt-4o-mini", "side", "by", "side")
	require.NoError(t, err)
	assert.Contains(t, out, "── gpt-4o-mini ──")
	assert.Contains(t, out, "gpt-4o-mini · ")
	assert.GreaterOrEqual(t, bytes.Count([]byte(out), []byte("You said: side by side")), 2)
}

func TestSendFailureReportsError(t *testing.T) {
	env := setupEnv(t)

	_, errOut, err := run(t, env, "-c", "c1", "send", llm.EchoFailPrefix, "now")
	require.Error(t, err)
	assert.Contains(t, errOut, "error: "+model.DefaultErrorMessage)
}

func TestSendRequiresConversation(t *testing.T) {
	env := setupEnv(t)

	_, _, err := run(t, env, "send", "hi")
	assert.Error(t, err)
}

func TestQuickUnknownMessageFails(t *testing.T) {
	env := setupEnv(t)

	_, errOut, err := run(t, env, "-c", "c1", "quick", "nope", "shorten")
	require.Error(t, err)
	assert.Contains(t, errOut, "error: ")
}

func TestScratchStores(t *testing.T) {
	env := setupEnv(t)

	out, _, err := run(t, env, "scratch", "add", "closet", `{"name":"Blue shirt","color":"blue"}`)
	require.NoError(t, err)
	var added model.ClosetItem
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.NotEmpty(t, added.ID)

	out, _, err = run(t, env, "scratch", "list", "closet")
	require.NoError(t, err)
	assert.Contains(t, out, "Blue shirt")

	out, _, err = run(t, env, "context")
	require.NoError(t, err)
	assert.Contains(t, out, "Closet: Blue shirt (blue)")

	_, _, err = run(t, env, "scratch", "rm", "closet", added.ID)
	require.NoError(t, err)

	out, _, err = run(t, env, "context")
	require.NoError(t, err)
	assert.Contains(t, out, "workspace is empty")

	_, _, err = run(t, env, "scratch", "list", "attic")
	assert.Error(t, err)

	_, _, err = run(t, env, "scratch", "add", "closet", "not json")
	assert.Error(t, err)
}

func TestUsageBadge(t *testing.T) {
	assert.Empty(t, usageBadge(nil))
	assert.Empty(t, usageBadge(&model.UsageEvent{}))
	assert.Contains(t, usageBadge(&model.UsageEvent{Model: "m1"}), "[m1]")
	assert.Contains(t, usageBadge(&model.UsageEvent{Model: "m1", CoinCost: model.Cost(1.5)}), "[m1 · 1.50 coins]")
	assert.Contains(t, usageBadge(&model.UsageEvent{CoinCost: model.Cost(0)}), "[0.00 coins]")
}
