package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/api"
	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/internal/middleware"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/internal/stream"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
	"github.com/capitalize-ai/marketplace-stream/pkg/metrics"
)

// DefaultHeartbeat is how often an idle relayed stream gets a comment line.
const DefaultHeartbeat = 15 * time.Second

// StreamHandler relays generation streams from the backend to browsers.
type StreamHandler struct {
	backend     *api.Client
	parser      *stream.Parser
	invalidator cache.Invalidator
	heartbeat   time.Duration
	logger      *logger.Logger
}

// NewStreamHandler creates a new stream handler. Keys invalidated after a
// stream are scoped to the caller before reaching invalidator.
func NewStreamHandler(backend *api.Client, invalidator cache.Invalidator, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	log = logger.OrGlobal(log)
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if invalidator == nil {
		invalidator = cache.InvalidatorFunc(func(...string) {})
	}
	return &StreamHandler{
		backend:     backend,
		parser:      stream.NewParser(log),
		invalidator: invalidator,
		heartbeat:   heartbeat,
		logger:      log,
	}
}

// Stream handles GET and POST /api/v1/conversations/{id}/stream.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	req, err := decodeStreamRequest(w, r, conversationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateStreamRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), middleware.GetTenantID(ctx), userID).
		With(zap.String("conversation_id", conversationID))

	body, err := h.backend.WithToken(middleware.GetToken(ctx)).OpenStream(ctx, req)
	if err != nil {
		log.Warn("failed to open upstream stream", zap.Error(err))
		writeUpstreamError(w, err)
		return
	}
	if body != nil {
		defer body.Close()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.SessionOpened("relay")
	start := time.Now()
	outcome := h.relay(w, flusher, r, req, body, userID)
	metrics.SessionClosed("relay", outcome.String(), time.Since(start).Seconds())

	log.Info("relayed stream", zap.String("outcome", outcome.String()), zap.Duration("duration", time.Since(start)))
}

func (h *StreamHandler) relay(w io.Writer, flusher http.Flusher, r *http.Request, req *model.StreamRequest, body io.Reader, userID string) stream.Outcome {
	ctx := r.Context()
	invalidator := cache.ForUser(h.invalidator, userID)
	messagesKey := cache.MessagesKey(req.ConversationID)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	events := h.parser.Events(ctx, body)
	streamed := false

	// The browser left. Closing the body aborts the upstream generation.
	cancelled := func() stream.Outcome {
		if streamed {
			invalidator.Invalidate(messagesKey, cache.ConversationsKey)
		}
		return stream.OutcomeCancelled
	}

	for {
		select {
		case <-ctx.Done():
			return cancelled()

		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err == nil {
				flusher.Flush()
			}

		case ev, ok := <-events:
			if !ok {
				return cancelled()
			}
			if err := stream.WriteFrame(w, ev); err != nil {
				h.logger.Debug("failed to write frame", zap.Error(err))
			}
			flusher.Flush()

			switch ev.(type) {
			case model.DeltaEvent:
				streamed = true
			case model.DoneEvent:
				invalidator.Invalidate(messagesKey, cache.ConversationsKey)
				return stream.OutcomeDone
			case model.ErrorEvent:
				invalidator.Invalidate(messagesKey)
				return stream.OutcomeError
			}
		}
	}
}

func decodeStreamRequest(w http.ResponseWriter, r *http.Request, conversationID string) (*model.StreamRequest, error) {
	if r.Method != http.MethodPost {
		return api.ParseStreamQuery(conversationID, r.URL.Query()), nil
	}

	req := &model.StreamRequest{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(req); err != nil {
		return nil, errors.New("invalid request body")
	}
	req.ConversationID = conversationID

	for i, a := range req.Attachments {
		normalized, err := api.NormalizeAttachment(a)
		if err != nil {
			return nil, fmt.Errorf("attachment %d: %w", i, err)
		}
		req.Attachments[i] = normalized
	}
	return req, nil
}
