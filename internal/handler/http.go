package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leaderboard-sync/internal/domain"
	"github.com/leaderboard-sync/internal/metrics"
	"github.com/leaderboard-sync/internal/websocket"
)

// readyTimeout bounds the database ping behind /ready
const readyTimeout = 2 * time.Second

// LeaderboardService is what the HTTP API needs from the service layer
type LeaderboardService interface {
	AddPlayer(ctx context.Context, name string) (*domain.Player, error)
	SubmitScore(ctx context.Context, playerID string, score int64) (*domain.LeaderboardView, error)
	GetLeaderboard(ctx context.Context, playerID string) (*domain.LeaderboardView, error)
	ResetAllScores(ctx context.Context, trigger domain.ResetTrigger) (*domain.ResetResult, error)
	GetPlayer(ctx context.Context, playerID string) (*domain.Player, error)
	GetHistory(ctx context.Context, playerID string, limit int) ([]domain.ScoreSubmission, error)
	GetStats(ctx context.Context) (*domain.LeaderboardStats, error)
}

// Rebuilder starts a background cache rebuild
type Rebuilder interface {
	TriggerAsync(ctx context.Context)
}

// Pinger reports durable store connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service LeaderboardService
	warmer  Rebuilder
	db      Pinger
	hub     *websocket.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. hub and m may be nil.
func NewHandler(
	service LeaderboardService,
	warmer Rebuilder,
	db Pinger,
	hub *websocket.Hub,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service: service,
		warmer:  warmer,
		db:      db,
		hub:     hub,
		metrics: m,
		logger:  logger,
	}
}

// errorResponse is the body of every non-2xx API response
type errorResponse struct {
	Error string `json:"error"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router(metricsPath string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	if h.metrics != nil {
		r.Method(http.MethodGet, metricsPath, h.metrics.Handler())
	}
	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(h.metricsMiddleware)

		r.Post("/players", h.CreatePlayer)
		r.Get("/players/{playerID}", h.GetPlayer)
		r.Get("/players/{playerID}/history", h.GetHistory)

		r.Post("/submit", h.SubmitScore)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Post("/reset", h.ResetScores)

		r.Post("/rebuild", h.Rebuild)
		r.Get("/stats", h.GetStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request latency by route pattern
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.metrics.ObserveHTTP(r.Method, route, ww.Status(), time.Since(start))
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeServiceError maps service errors to status codes. Anything that is not
// a caller error is logged and hidden behind a generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsInvalidArgument(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, domain.ErrPlayerNotFound)
	default:
		h.logger.Error("request failed", "operation", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// decodeBody decodes a JSON request body
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service liveness
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the durable store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// CreatePlayer handles player registration
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePlayerRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	player, err := h.service.AddPlayer(r.Context(), req.Name)
	if err != nil {
		h.writeServiceError(w, "create_player", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, player)
}

// GetPlayer returns a player by id
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := h.service.GetPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, "get_player", err)
		return
	}
	h.writeJSON(w, http.StatusOK, player)
}

// GetHistory returns a player's submissions, newest first
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
		limit = l
	}

	history, err := h.service.GetHistory(r.Context(), chi.URLParam(r, "playerID"), limit)
	if err != nil {
		h.writeServiceError(w, "get_history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

// SubmitScore handles score submission
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitScoreRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := h.service.SubmitScore(r.Context(), req.PlayerID, req.Score)
	if err != nil {
		h.writeServiceError(w, "submit_score", err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// GetLeaderboard returns the leaderboard view for ?playerId=
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetLeaderboard(r.Context(), r.URL.Query().Get("playerId"))
	if err != nil {
		h.writeServiceError(w, "get_leaderboard", err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// ResetScores zeroes every player's score
func (h *Handler) ResetScores(w http.ResponseWriter, r *http.Request) {
	// a reset runs to completion even if the client disconnects
	ctx := context.WithoutCancel(r.Context())

	result, err := h.service.ResetAllScores(ctx, domain.ResetTriggerManual)
	if err != nil {
		h.writeServiceError(w, "reset", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Rebuild starts a background cache rebuild
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	h.warmer.TriggerAsync(context.WithoutCancel(r.Context()))
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// GetStats returns player counts from both stores
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.writeServiceError(w, "get_stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}
