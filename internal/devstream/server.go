// Package devstream is a development stand-in for the marketplace backend's
// chat endpoints. It keeps history in memory, streams model output in the
// frame protocol and reports a flat per-token coin cost.
package devstream

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/api"
	"github.com/capitalize-ai/marketplace-stream/internal/llm"
	"github.com/capitalize-ai/marketplace-stream/internal/middleware"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/internal/stream"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

const (
	// DefaultMaxHistory is how many earlier messages are sent to the model.
	DefaultMaxHistory = 40

	memoryCue = "remember that "
)

// Config tunes the emulator.
type Config struct {
	// CoinRate is the coin cost per thousand tokens.
	CoinRate   float64
	MaxHistory int
}

// Server serves the backend chat endpoints.
type Server struct {
	store  *Store
	router *llm.Router
	cfg    Config
	logger *logger.Logger
}

// NewServer creates an emulator backed by router.
func NewServer(store *Store, router *llm.Router, cfg Config, log *logger.Logger) *Server {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	return &Server{
		store:  store,
		router: router,
		cfg:    cfg,
		logger: logger.OrGlobal(log),
	}
}

// Routes mounts the endpoints under /api/chat.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/chat/conversations", func(r chi.Router) {
		r.Get("/", s.ListConversations)
		r.Get("/{id}/messages", s.ListMessages)
		r.Get("/{id}/stream", s.Stream)
		r.Post("/{id}/stream", s.Stream)
	})
}

// ListConversations handles GET /api/chat/conversations.
func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetUserID(r.Context())
	writeJSON(w, http.StatusOK, model.ListConversationsResponse{Conversations: s.store.List(owner)})
}

// ListMessages handles GET /api/chat/conversations/{id}/messages.
func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetUserID(r.Context())
	history, err := s.store.History(owner, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, model.ListMessagesResponse{Messages: history})
}

// Stream handles GET and POST /api/chat/conversations/{id}/stream.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	var req *model.StreamRequest
	if r.Method == http.MethodPost {
		req = &model.StreamRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.ConversationID = conversationID
	} else {
		req = api.ParseStreamQuery(conversationID, r.URL.Query())
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := s.store.History(owner, conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	prompt, err := s.prompt(owner, req)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	emit := func(ev model.StreamEvent) error {
		if err := stream.WriteFrame(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	log := s.logger.With(zap.String("conversation_id", conversationID))

	if !req.IsFollowUp() {
		content := req.Message
		if content == "" {
			content = model.AttachmentPlaceholder
		}
		if _, err := s.store.Append(owner, model.Message{
			ConversationID: conversationID,
			Role:           model.RoleUser,
			Content:        content,
		}); err != nil {
			emit(model.ErrorEvent{Message: "conversation not found"})
			return
		}
	}

	if len(history) > s.cfg.MaxHistory {
		history = history[len(history)-s.cfg.MaxHistory:]
		emit(model.CompressedEvent{})
	}

	messages := make([]llm.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		if m.Role == model.RoleSystem {
			continue
		}
		messages = append(messages, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: string(model.RoleUser), Content: prompt})

	client, modelID := s.router.Resolve(req.Mode, req.Model)
	completion, err := client.Stream(ctx, &llm.Request{
		Model:    modelID,
		System:   systemPrompt(req),
		Messages: messages,
	}, func(token string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(model.DeltaEvent{Content: token})
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("client disconnected during generation")
			return
		}
		log.Warn("generation failed", zap.String("provider", client.Name()), zap.Error(err))
		emit(model.ErrorEvent{Message: model.DefaultErrorMessage})
		return
	}

	cost := s.coinCost(completion.Tokens())
	completionModel := completion.Model
	if _, err := s.store.Append(owner, model.Message{
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		Content:        completion.Content,
		Model:          &completionModel,
		CoinCost:       model.Cost(cost),
	}); err != nil {
		log.Warn("failed to store reply", zap.Error(err))
	}

	if suggestion := memorySuggestion(req.Message); suggestion != "" {
		emit(model.MemorySuggestionEvent{Content: suggestion})
	}
	emit(model.UsageEvent{Model: completion.Model, CoinCost: model.Cost(cost)})
	emit(model.DoneEvent{})

	log.Info("generation complete",
		zap.String("provider", client.Name()),
		zap.String("model", completion.Model),
		zap.Int("tokens", completion.Tokens()),
		zap.Float64("coin_cost", cost),
		zap.Int64("latency_ms", completion.LatencyMs),
	)
}

// prompt builds the final user turn for a request.
func (s *Server) prompt(owner string, req *model.StreamRequest) (string, error) {
	if !req.IsFollowUp() {
		text := req.Message
		if n := len(req.Attachments); n > 0 {
			text = strings.TrimSpace(fmt.Sprintf("%s\n[%d attachment(s) omitted]", text, n))
		}
		return text, nil
	}

	ref, err := s.store.Message(owner, req.ConversationID, req.ReferenceMessageID)
	if err != nil {
		return "", fmt.Errorf("message %s not found", req.ReferenceMessageID)
	}

	if req.QuickAction != "" {
		return quickActionPrompts[req.QuickAction] + "\n\n" + ref.Content, nil
	}

	instruction := "Answer this again"
	if hint, ok := regenerateHints[req.RegenerateStyle]; ok {
		instruction += ", " + hint
	}
	return instruction + ":\n\n" + ref.Content, nil
}

var quickActionPrompts = map[model.QuickAction]string{
	model.QuickActionShorten:  "Rewrite the following more briefly:",
	model.QuickActionFormal:   "Rewrite the following in a formal tone:",
	model.QuickActionExample:  "Give a concrete example for the following:",
	model.QuickActionContinue: "Continue the following:",
}

var regenerateHints = map[model.RegenerateStyle]string{
	model.RegenerateDifferent: "taking a different approach",
	model.RegenerateAccurate:  "prioritising accuracy",
	model.RegenerateCreative:  "being more creative",
}

func systemPrompt(req *model.StreamRequest) string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Level", req.Level)
	add("Style", req.Style)
	add("Subject", req.Subject)
	add("Goal", req.Goal)
	add("Place", req.Place)
	add("Time per day", req.TimePerDay)
	if req.IntegrityMode {
		lines = append(lines, "Guide the user without doing graded work for them.")
	}
	add("About the user", req.WorkspaceContext)
	return strings.Join(lines, "\n")
}

func memorySuggestion(message string) string {
	lower := strings.ToLower(message)
	i := strings.Index(lower, memoryCue)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(message[i+len(memoryCue):])
}

func (s *Server) coinCost(tokens int) float64 {
	return math.Round(float64(tokens)*s.cfg.CoinRate/1000*100) / 100
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
