// Package server exposes the admission controller over HTTP. The chat
// endpoints map admission outcomes onto status codes: 200 for completed
// work, 429 for rate limited or overloaded, 408 for requests that timed
// out, and 503 when the unthrottled queue is full.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavankpdev/rate-limiting-implementation/internal/admission"
	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/identity"
	"github.com/pavankpdev/rate-limiting-implementation/internal/worker"
)

// Server is the ratelimitd HTTP server.
type Server struct {
	httpServer *http.Server
	ctrl       *admission.Controller
	issuer     *identity.Issuer
	pool       *worker.Pool
	hub        *Hub
	clock      clock.Clock
	router     chi.Router
}

// New creates a new ratelimitd server. The hub is mounted at /ws; wiring
// it into the controller's sink is the caller's job.
func New(addr string, ctrl *admission.Controller, issuer *identity.Issuer, pool *worker.Pool, hub *Hub, clk clock.Clock) *Server {
	s := &Server{
		ctrl:   ctrl,
		issuer: issuer,
		pool:   pool,
		hub:    hub,
		clock:  clk,
		router: chi.NewRouter(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Get("/", s.handleRoot)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/ws", s.hub.HandleWebSocket)
	s.router.Route("/api", func(api chi.Router) {
		api.Post("/login", s.handleLogin)
		api.Get("/metrics", s.handleMetrics)
		api.Group(func(chat chi.Router) {
			chat.Use(s.withSession)
			chat.Post("/chat", s.handleChat)
			chat.Post("/chat/unthrottled", s.handleChatUnthrottled)
		})
	})
}

// handleRoot serves a service banner.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":   "ratelimitd",
		"status":    "running",
		"time":      s.clock.Now().Format(time.RFC3339),
		"algorithm": string(s.ctrl.Algorithm()),
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin exchanges credentials for a session token. An empty
// username yields a guest session, so the endpoint never needs to be
// called for anonymous use.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	sess, err := s.issuer.Login(req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply             string    `json:"reply"`
	RemainingRequests int       `json:"remaining_requests"`
	ResetTime         time.Time `json:"reset_time"`
}

type rateLimitedResponse struct {
	Error             string    `json:"error"`
	RemainingRequests int       `json:"remaining_requests"`
	ResetTime         time.Time `json:"reset_time"`
	CooldownSeconds   int       `json:"cooldown_seconds"`
}

type overloadedResponse struct {
	Error       string `json:"error"`
	QueueLength int    `json:"queue_length"`
	Concurrency int    `json:"concurrency"`
}

type unthrottledResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleChat runs a message through the throttled flow.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	sess := sessionFrom(r.Context())
	res, err := s.ctrl.Gated(r.Context(), admission.Request{
		Identity:      sess.Identity,
		Authenticated: sess.Authenticated,
		Payload:       req.Message,
	})
	if err != nil {
		s.respondChatError(w, err)
		return
	}
	setRateLimitHeaders(w, res.Limit, res.Remaining, res.ResetAt)
	writeJSON(w, http.StatusOK, chatResponse{
		Reply:             res.Reply,
		RemainingRequests: res.Remaining,
		ResetTime:         res.ResetAt,
	})
}

// handleChatUnthrottled runs a message through the queued flow. No rate
// limit check is made, so the response carries no X-RateLimit headers.
func (s *Server) handleChatUnthrottled(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	sess := sessionFrom(r.Context())
	res, err := s.ctrl.Unthrottled(r.Context(), admission.Request{
		Identity:      sess.Identity,
		Authenticated: sess.Authenticated,
		Payload:       req.Message,
	})
	if err != nil {
		s.respondWorkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unthrottledResponse{Reply: res.Reply})
}

// handleMetrics returns a point-in-time snapshot of the worker pool.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Metrics())
}

func (s *Server) respondChatError(w http.ResponseWriter, err error) {
	var rl *admission.RateLimitedError
	if errors.As(err, &rl) {
		setRateLimitHeaders(w, rl.Limit, 0, rl.ResetAt)
		w.Header().Set("Retry-After", fmt.Sprintf("%d", rl.CooldownSeconds))
		writeJSON(w, http.StatusTooManyRequests, rateLimitedResponse{
			Error:             "rate limit exceeded",
			RemainingRequests: 0,
			ResetTime:         rl.ResetAt,
			CooldownSeconds:   rl.CooldownSeconds,
		})
		return
	}
	var ov *admission.OverloadedError
	if errors.As(err, &ov) {
		writeJSON(w, http.StatusTooManyRequests, overloadedResponse{
			Error:       "server overloaded, retry shortly",
			QueueLength: ov.QueueLength,
			Concurrency: ov.Concurrency,
		})
		return
	}
	s.respondWorkError(w, err)
}

func (s *Server) respondWorkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admission.ErrTimedOut):
		writeJSON(w, http.StatusRequestTimeout, errorResponse{Error: "request timed out"})
	case errors.Is(err, admission.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "queue full, retry shortly"})
	default:
		log.Printf("chat request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return chatRequest{}, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return chatRequest{}, false
	}
	return req, true
}

func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	log.Printf("ratelimitd listening on %s", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
