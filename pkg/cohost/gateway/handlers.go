package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/jholhewres/cohost/pkg/cohost/auth"
	"github.com/jholhewres/cohost/pkg/cohost/bot"
	"github.com/jholhewres/cohost/pkg/cohost/history"
	"github.com/jholhewres/cohost/pkg/cohost/scheduler"
)

// maxBodyBytes caps request bodies on the JSON API.
const maxBodyBytes = 64 << 10

// errorResponse is the consistent error format.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	g.writeJSON(w, code, resp)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		g.logger.Error("encoding response", "error", err)
		http.Error(w, `{"error":{"message":"internal error","code":500}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

// handleHealth implements GET /health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	available := g.deps.Model.IsAvailable(r.Context())
	status := "healthy"
	if !available {
		status = "unhealthy"
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"llm_available": available,
		"timestamp":     time.Now().UTC(),
	})
}

type chatRequest struct {
	Username string   `json:"username"`
	Message  string   `json:"message"`
	Emotes   []string `json:"emotes,omitempty"`
}

// handleChat implements POST /chat.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := sonic.ConfigDefault.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Message = strings.TrimSpace(req.Message)
	if req.Username == "" || req.Message == "" {
		g.writeError(w, "username and message are required", http.StatusBadRequest)
		return
	}

	res := g.deps.Bot.Chat(r.Context(), req.Username, req.Message, req.Emotes)
	if res.Error != "" {
		g.logger.Warn("chat request failed", "error", res.Error)
	}
	g.writeJSON(w, http.StatusOK, res)
}

// handleGetContext implements GET /context.
func (g *Gateway) handleGetContext(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.deps.Dialogue.ContextInfo())
}

// handleDeleteContext implements DELETE /context.
func (g *Gateway) handleDeleteContext(w http.ResponseWriter, r *http.Request) {
	g.deps.Dialogue.Reset()
	g.deps.Model.ClearCache()
	g.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Context cleared",
	})
}

// handleStatus implements GET /status.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := g.deps.Bot.Status()
	status := "waiting_for_auth"
	if st.ConnectedAt != nil {
		status = "online"
	}
	channel := st.Channel
	if channel == "" {
		channel = "Not Set"
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"channel":           channel,
		"platform":          st.Platform,
		"connected_clients": g.deps.Hub.Count(),
		"authenticated":     st.Authenticated,
		"queue_depth":       st.QueueDepth,
		"responding":        st.Responding,
		"tts_ready":         st.TTSReady,
		"cache":             g.deps.Model.Stats(),
		"jobs":              g.jobs(),
		"uptime":            time.Since(g.startedAt).Round(time.Second).String(),
	})
}

func (g *Gateway) jobs() []scheduler.Job {
	if g.deps.Jobs == nil {
		return []scheduler.Job{}
	}
	return g.deps.Jobs.List()
}

// handleListJobs implements GET /jobs.
func (g *Gateway) handleListJobs(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{"jobs": g.jobs()})
}

// handleRunJob implements POST /jobs/{id}/run: one out-of-schedule run.
func (g *Gateway) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if g.deps.Jobs == nil {
		g.writeError(w, "Scheduler not configured", http.StatusNotFound)
		return
	}
	id := chi.URLParam(r, "id")
	err := g.deps.Jobs.RunNow(id)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		g.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		g.logger.Warn("manual job run failed", "id", id, "error", err)
		g.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Job %s completed", id)})
}

// handleHistory implements GET /history?limit=N.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			g.writeError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events := []history.Event{}
	total := 0
	if g.deps.History != nil {
		recent, err := g.deps.History.Recent(r.Context(), limit)
		if err != nil {
			g.logger.Error("loading history", "error", err)
			g.writeError(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		if recent != nil {
			events = recent
		}
		total, _ = g.deps.History.Count(r.Context())
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"events": events, "total": total})
}

// handleAuthLogin implements GET /auth/login.
func (g *Gateway) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if g.deps.Auth == nil {
		g.writeError(w, "OAuth is not configured for this platform", http.StatusNotFound)
		return
	}
	url, _ := g.deps.Auth.LoginURL()
	g.logger.Debug("redirecting to oauth authorize url")
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// handleAuthCallback implements GET /auth/callback.
func (g *Gateway) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if g.deps.Auth == nil {
		g.writeError(w, "OAuth is not configured for this platform", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		msg := fmt.Sprintf("Auth error: %s - %s", e, q.Get("error_description"))
		g.logger.Error("oauth callback error", "error", msg)
		g.writeError(w, msg, http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		g.writeError(w, "No authorization code provided", http.StatusBadRequest)
		return
	}

	tok, err := g.deps.Auth.Exchange(r.Context(), code, q.Get("state"))
	if err != nil {
		g.logger.Error("failed to authenticate", "error", err)
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	creds := bot.Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if err := g.deps.Bot.ReplaceSession(r.Context(), creds); err != nil {
		g.logger.Error("failed to start chat session", "error", err)
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"message": "Authentication successful! You can close this window."})
}

// handleAuthRefresh implements GET /auth/refresh.
func (g *Gateway) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if g.deps.Auth == nil {
		g.writeError(w, "OAuth is not configured for this platform", http.StatusNotFound)
		return
	}
	tok, err := g.deps.Auth.Refresh(r.Context(), g.deps.Bot.RefreshToken())
	if errors.Is(err, auth.ErrNoRefreshToken) {
		g.writeError(w, "No refresh token available", http.StatusBadRequest)
		return
	}
	if err != nil {
		g.logger.Error("failed to refresh token", "error", err)
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	creds := bot.Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if err := g.deps.Bot.ReplaceSession(r.Context(), creds); err != nil {
		g.logger.Error("failed to restart chat session", "error", err)
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"message": "Token refreshed successfully"})
}
