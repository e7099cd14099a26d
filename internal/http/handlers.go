package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"transcendence/coordinator/internal/protocol"
)

// Notifier is the slice of the coordination service the REST ingress needs:
// pushing backend-originated events to live sessions and driving the
// round-end transitions of games.
type Notifier interface {
	BroadcastToChannel(channelID int64, event protocol.Event, payload json.RawMessage)
	NotifyUsers(userIDs []int64, event protocol.Event, payload json.RawMessage)
	BroadcastAll(event protocol.Event, payload json.RawMessage)
	PauseGame(gameID string) error
	ConfirmGameExit(gameID string) error
}

// StatsFunc reports current live session and online user counts.
type StatsFunc func() (sessions, users int)

// RateLimiter gates how frequently the notify endpoints may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *zap.Logger
	Notifier    Notifier
	Stats       StatsFunc
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the coordinator's HTTP handlers: health and metrics for
// operators, notify endpoints for the REST backend.
type HandlerSet struct {
	logger      *zap.Logger
	notifier    Notifier
	stats       StatsFunc
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
	started     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		notifier:    opts.Notifier,
		stats:       opts.Stats,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
		started:     now(),
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("GET /livez", h.LivenessHandler())
	mux.HandleFunc("GET /metrics", h.MetricsHandler())
	mux.HandleFunc("POST /internal/channels/{id}/events", h.guarded(h.channelEvent))
	mux.HandleFunc("POST /internal/users/events", h.guarded(h.userEvent))
	mux.HandleFunc("POST /internal/broadcast", h.guarded(h.broadcastEvent))
	mux.HandleFunc("POST /internal/games/{id}/pause", h.guarded(h.gamePause))
	mux.HandleFunc("POST /internal/games/{id}/exit", h.guarded(h.gameExit))
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sessions, users int
		if h.stats != nil {
			sessions, users = h.stats()
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP coordinator_uptime_seconds Coordinator uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE coordinator_uptime_seconds gauge\n")
		fmt.Fprintf(w, "coordinator_uptime_seconds %.0f\n", h.now().Sub(h.started).Seconds())

		fmt.Fprintf(w, "# HELP coordinator_sessions Current connected WebSocket sessions.\n")
		fmt.Fprintf(w, "# TYPE coordinator_sessions gauge\n")
		fmt.Fprintf(w, "coordinator_sessions %d\n", sessions)

		fmt.Fprintf(w, "# HELP coordinator_online_users Distinct users with at least one session.\n")
		fmt.Fprintf(w, "# TYPE coordinator_online_users gauge\n")
		fmt.Fprintf(w, "coordinator_online_users %d\n", users)
	}
}

type eventRequest struct {
	Event   protocol.Event  `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type userEventRequest struct {
	UserIDs []int64         `json:"userIds"`
	Event   protocol.Event  `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (h *HandlerSet) channelEvent(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || channelID <= 0 {
		http.Error(w, "malformed channel id", http.StatusBadRequest)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	h.notifier.BroadcastToChannel(channelID, req.Event, req.Payload)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *HandlerSet) userEvent(w http.ResponseWriter, r *http.Request) {
	var req userEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" || len(req.UserIDs) == 0 {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	h.notifier.NotifyUsers(req.UserIDs, req.Event, req.Payload)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *HandlerSet) broadcastEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	h.notifier.BroadcastAll(req.Event, req.Payload)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *HandlerSet) gamePause(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}
	if err := h.notifier.PauseGame(gameID); err != nil {
		status := http.StatusNotFound
		if protocol.AsError(err).Kind == protocol.KindConflict {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *HandlerSet) gameExit(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("id")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}
	if err := h.notifier.ConfirmGameExit(gameID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finished"})
}

// guarded wraps a notify handler with admin auth and rate limiting. The
// notify surface is backend-to-backend only and refuses to run without a
// configured token.
func (h *HandlerSet) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)
		if h.adminToken == "" {
			reqLogger.Warn("notify denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("notify denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("notify denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.notifier == nil {
			http.Error(w, "notifier unavailable", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
