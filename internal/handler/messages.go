package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/api"
	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/internal/middleware"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

// MessageHandler serves a conversation's message history from cache.
type MessageHandler struct {
	backend *api.Client
	cache   *cache.Cache[[]model.Message]
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(backend *api.Client, c *cache.Cache[[]model.Message], log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		backend: backend,
		cache:   c,
		logger:  logger.OrGlobal(log),
	}
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	backend := h.backend.WithToken(middleware.GetToken(ctx))
	key := cache.UserKey(middleware.GetUserID(ctx), cache.MessagesKey(conversationID))

	msgs, err := h.cache.Get(ctx, key, func(ctx context.Context) ([]model.Message, error) {
		return backend.ListMessages(ctx, conversationID)
	})
	if err != nil {
		h.logger.Warn("failed to list messages", zap.String("conversation_id", conversationID), zap.Error(err))
		writeUpstreamError(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	writeJSON(w, http.StatusOK, model.ListMessagesResponse{Messages: msgs})
}
