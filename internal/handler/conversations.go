package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/api"
	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/internal/middleware"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

// ConversationHandler serves the caller's conversation list from cache.
type ConversationHandler struct {
	backend *api.Client
	cache   *cache.Cache[[]model.Conversation]
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(backend *api.Client, c *cache.Cache[[]model.Conversation], log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		backend: backend,
		cache:   c,
		logger:  logger.OrGlobal(log),
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	backend := h.backend.WithToken(middleware.GetToken(ctx))
	key := cache.UserKey(middleware.GetUserID(ctx), cache.ConversationsKey)

	convs, err := h.cache.Get(ctx, key, func(ctx context.Context) ([]model.Conversation, error) {
		return backend.ListConversations(ctx)
	})
	if err != nil {
		h.logger.Warn("failed to list conversations", zap.Error(err))
		writeUpstreamError(w, err)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	writeJSON(w, http.StatusOK, model.ListConversationsResponse{Conversations: convs})
}
