package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
)

type sessionCounter interface {
	CountByState(ctx context.Context, state enums.ChatState) (int64, error)
}

type chatCounter interface {
	CountOpen(ctx context.Context) (int64, error)
}

type connectionCounter interface {
	Count(ctx context.Context) (int64, error)
}

type StatsHandler struct {
	sessions    sessionCounter
	chats       chatCounter
	connections connectionCounter
	logger      *zap.Logger
}

func NewStatsHandler(sessions sessionCounter, chats chatCounter, connections connectionCounter, logger *zap.Logger) *StatsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHandler{
		sessions:    sessions,
		chats:       chats,
		connections: connections,
		logger:      logger,
	}
}

// NewRouter builds the small operational surface: liveness plus the live
// engine counters.
func NewRouter(stats *StatsHandler) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/v1/stats", stats.Stats)

	return r
}

type statsResponse struct {
	Waiting     int64 `json:"waiting"`
	ActiveChats int64 `json:"active_chats"`
	Connections int64 `json:"connections"`
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	waiting, err := h.sessions.CountByState(ctx, enums.StateWaiting)
	if err != nil {
		h.internal(w, "count waiting sessions", err)
		return
	}
	active, err := h.chats.CountOpen(ctx)
	if err != nil {
		h.internal(w, "count open chats", err)
		return
	}
	conns, err := h.connections.Count(ctx)
	if err != nil {
		h.internal(w, "count connections", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statsResponse{
		Waiting:     waiting,
		ActiveChats: active,
		Connections: conns,
	}); err != nil {
		h.logger.Warn("encode stats response", zap.Error(err))
	}
}

func (h *StatsHandler) internal(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
