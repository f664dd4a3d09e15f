// Package gateway implements the Gateway: an HTTP + optional WebSocket
// façade over the Session Manager and Pairing Manager, dispatching
// authenticated requests to a session's Agent Loop.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelai/agentcore/internal/auth"
	"github.com/kestrelai/agentcore/internal/model"
	"github.com/kestrelai/agentcore/internal/pairing"
	"github.com/kestrelai/agentcore/internal/session"
	"github.com/kestrelai/agentcore/internal/steering"
)

// Config configures a Server.
type Config struct {
	Addr string

	Sessions *session.Manager
	// Pairing is optional; when both Pairing and JWT are nil, protected
	// routes require no auth at all (suitable for a loopback-only
	// deployment).
	Pairing *pairing.Manager
	// JWT is an optional second bearer-token path for tokens minted
	// outside the pairing flow.
	JWT *auth.Service

	// AgentCard, if non-nil, is served verbatim at /.well-known/agent.json.
	AgentCard json.RawMessage
	// WebhookHandler, if non-nil, serves POST /webhooks/{name}.
	WebhookHandler func(ctx context.Context, name string, body WebhookBody) error

	Logger *slog.Logger

	// Metrics is the collector set served at /metrics. Pass the same
	// instance used to build the Session Manager's LoopConfig.Observer so
	// loop-fed counters and the HTTP surface agree; if nil, a fresh set is
	// registered.
	Metrics *Metrics
}

// WebhookBody is the parsed body of a POST /webhooks/{name} request.
type WebhookBody struct {
	Message string `json:"message"`
	UserID  string `json:"userId,omitempty"`
}

// Server is the Gateway's HTTP + WebSocket façade.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	startTime  time.Time
	httpServer *http.Server
	metrics    *Metrics
}

// New builds a Server. Call Start to begin listening.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{cfg: cfg, logger: logger, startTime: time.Now(), metrics: metrics}
}

// Start begins listening and returns once the listener is bound; serving
// continues on a background goroutine until Shutdown is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard)
	mux.HandleFunc("/pair", s.handlePair)
	mux.HandleFunc("/sessions", s.withAuth(s.handleSessionsCollection))
	mux.HandleFunc("/sessions/", s.withAuth(s.handleSessionsItem))
	mux.HandleFunc("/webhooks/", s.withAuth(s.handleWebhook))
	mux.HandleFunc("/ws/", s.handleWebSocket)

	handler := s.withCORS(s.withRecover(mux))

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		s.logger.Info("gateway listening", "addr", s.cfg.Addr)
		return nil
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic handling request", "path", r.URL.Path, "panic", rec)
				jsonError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withAuth requires a valid bearer token when a pairing manager or JWT
// service is attached. With neither attached, the route is open.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Pairing == nil && s.cfg.JWT == nil {
			next(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" || !s.authenticate(token) {
			jsonError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) authenticate(token string) bool {
	if s.cfg.Pairing != nil && s.cfg.Pairing.ValidateToken(token) {
		return true
	}
	if s.cfg.JWT != nil && s.cfg.JWT.Enabled() {
		if _, err := s.cfg.JWT.Validate(token); err == nil {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"sessions":  len(s.cfg.Sessions.ListSessions()),
	}
	if s.cfg.Pairing != nil {
		stats := s.cfg.Pairing.Stats()
		resp["pairing"] = map[string]any{
			"activeCodes":   stats.ActiveCodes,
			"pairedClients": stats.PairedClients,
		}
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AgentCard == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.cfg.AgentCard)
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.Pairing == nil {
		jsonError(w, http.StatusBadRequest, "pairing is disabled")
		return
	}

	var body struct {
		Code  string `json:"code"`
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, err := s.cfg.Pairing.ExchangeCode(body.Code, body.Label)
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "invalid or expired pairing code")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"token": token, "paired": true})
}

func (s *Server) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.cfg.Sessions.ListSessions()
		out := make([]sessionSummary, 0, len(list))
		for _, sess := range list {
			out = append(out, summarize(sess))
		}
		jsonResponse(w, http.StatusOK, map[string]any{"sessions": out})

	case http.MethodPost:
		var body struct {
			ChannelID    string `json:"channelId"`
			UserID       string `json:"userId"`
			SystemPrompt string `json:"systemPrompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		sess, err := s.cfg.Sessions.CreateSession(model.SessionConfig{
			ChannelID:    body.ChannelID,
			UserID:       body.UserID,
			SystemPrompt: body.SystemPrompt,
		})
		if err != nil {
			jsonError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.metrics.SessionCreated()
		jsonResponse(w, http.StatusCreated, summarize(sess))

	default:
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSessionsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		jsonError(w, http.StatusBadRequest, "session id required")
		return
	}

	if len(parts) > 1 && parts[1] == "steer" {
		s.handleSteer(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, ok := s.cfg.Sessions.GetSession(id)
		if !ok {
			jsonError(w, http.StatusNotFound, "session not found")
			return
		}
		jsonResponse(w, http.StatusOK, summarize(sess))

	case http.MethodDelete:
		if !s.cfg.Sessions.EndSession(id) {
			jsonError(w, http.StatusNotFound, "session not found")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]any{"sessionId": id, "ended": true})

	default:
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSteer(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Message) == "" {
		jsonError(w, http.StatusBadRequest, "message is required")
		return
	}
	if !s.cfg.Sessions.TouchSession(id) {
		jsonError(w, http.StatusNotFound, "session not found")
		return
	}
	if loop, ok := s.cfg.Sessions.GetLoop(id); ok {
		loop.Steer(steering.Message{Kind: steering.KindInject, Content: body.Message})
	}
	jsonResponse(w, http.StatusOK, map[string]any{"sessionId": id, "steered": true, "message": body.Message})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/webhooks/")
	if name == "" || s.cfg.WebhookHandler == nil {
		jsonError(w, http.StatusNotFound, "webhooks are disabled")
		return
	}

	var body WebhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.cfg.WebhookHandler(r.Context(), name, body); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"webhook": name, "accepted": true})
}

type sessionSummary struct {
	SessionID    string `json:"sessionId"`
	ChannelID    string `json:"channelId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
	LastActiveAt string `json:"lastActiveAt"`
}

func summarize(s *model.Session) sessionSummary {
	return sessionSummary{
		SessionID:    s.ID,
		ChannelID:    s.ChannelID(),
		UserID:       s.UserID(),
		Status:       string(s.Status),
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
		LastActiveAt: s.LastActiveAt.UTC().Format(time.RFC3339),
	}
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}
