// ABOUTME: HTTP API for pushing presence into running bots and listing the active fleet
// ABOUTME: Every /api route sits behind the shared x-api-key check; health probes do not

package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/fleet"
)

// APIKeyHeader carries the shared API secret.
const APIKeyHeader = "x-api-key"

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// PresenceRequest is the JSON request body for POST /api/bot/presence.
type PresenceRequest struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// BotsResponse is the JSON response for GET /api/bots.
type BotsResponse struct {
	Bots  []string `json:"bots"`
	Count int      `json:"count"`
}

// routes builds the HTTP handler. Health probes are registered outside the
// key middleware so orchestrators can reach them.
func (g *Gateway) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/bot/presence", g.handleBotPresence)
	api.HandleFunc("/api/bots", g.handleListBots)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.Handle("/api/", g.requireAPIKey(api))
	mux.Handle("/", g.requireAPIKey(http.NotFoundHandler()))

	return g.withRequestID(mux)
}

// withRequestID tags each request with a fresh ID for log correlation.
func (g *Gateway) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RequestIDHeader, uuid.New().String())
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey rejects requests whose x-api-key does not match. The
// offered key is never logged.
func (g *Gateway) requireAPIKey(next http.Handler) http.Handler {
	want := []byte(g.config.ListenAPI.Key)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(APIKeyHeader))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			g.logger.Warn("rejected API request",
				"client_ip", clientIP(r),
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", w.Header().Get(RequestIDHeader),
			)
			g.sendJSONError(w, http.StatusForbidden, "Forbidden: Invalid API Key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleBotPresence handles POST /api/bot/presence.
func (g *Gateway) handleBotPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req PresenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Status == "" {
		g.sendJSONError(w, http.StatusBadRequest, "Name and status are required.")
		return
	}

	logger := g.logger.With("name", req.Name, "request_id", w.Header().Get(RequestIDHeader))

	err := g.supervisor.SetBotPresence(r.Context(), req.Name, req.Status)
	switch {
	case errors.Is(err, fleet.ErrBotNotActive):
		logger.Info("presence update for inactive bot")
		g.sendJSONError(w, http.StatusNotFound, "Bot not found or not logged in.")
	case err != nil:
		logger.Error("failed to update bot presence", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "Failed to update bot presence.")
	default:
		logger.Info("bot presence updated", "status", req.Status)
		g.sendJSON(w, http.StatusOK, map[string]string{"message": "Bot presence updated successfully."})
	}
}

// handleListBots handles GET /api/bots.
func (g *Gateway) handleListBots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	names := g.supervisor.Registry().Names()
	g.sendJSON(w, http.StatusOK, BotsResponse{Bots: names, Count: len(names)})
}

// handleHealth returns 200 OK while the process is serving.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once the manager identity has logged in.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.manager.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("manager not logged in"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d bots)", g.supervisor.Registry().Len())
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
