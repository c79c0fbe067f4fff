// Package gateway implements the HTTP Boundary (spec.md §4.9): the
// externally-reachable surface that turns inbound mention/command requests
// into orchestrator runs, and answers the IRC client's join-check pull.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/nexus-core/internal/auth"
	"github.com/haasonsaas/nexus-core/internal/format"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/prompt"
	"github.com/haasonsaas/nexus-core/internal/storage"
	"github.com/haasonsaas/nexus-core/pkg/models"

	"log/slog"
)

// Config wires the Server's dependencies.
type Config struct {
	Host string
	Port int

	Loop      *orchestrator.Loop
	Auth      *auth.Service
	Rules     *storage.RulesStore
	Reminders storage.ReminderStore
	Registry  *orchestrator.ToolRegistry
	Commands  *CommandRegistry

	Logger *slog.Logger
}

// Server is the HTTP boundary: a net/http.ServeMux in front of the
// orchestrator, following the teacher's internal/gateway/http_server.go
// shape (plain mux, promhttp on /metrics, graceful Shutdown).
type Server struct {
	cfg       Config
	logger    *slog.Logger
	httpSrv   *http.Server
	listener  net.Listener
	startTime time.Time
}

// New builds a Server. It does not start listening; call Start.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger, startTime: time.Now()}
}

// Start binds the listener and serves in the background. Non-blocking;
// errors from Serve are logged, matching runServe's server.Start(ctx)
// pattern in cmd/nexus-core.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/commands", s.handleCommandsList)
	mux.Handle("/mention", s.authed(http.HandlerFunc(s.handleMention)))
	mux.Handle("/mention/stream", s.authed(http.HandlerFunc(s.handleMentionStream)))
	mux.Handle("/command", s.authed(http.HandlerFunc(s.handleCommand)))
	mux.Handle("/command/stream", s.authed(http.HandlerFunc(s.handleCommandStream)))
	mux.Handle("/irc/join-check", s.authed(http.HandlerFunc(s.handleJoinCheck)))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http boundary listening", "addr", addr)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// authed verifies the bearer token the IRC client presents before the
// permission_level in the request body is trusted (spec.md §6, §4.9: the
// HTTP Boundary is the one externally-reachable surface, so credential
// verification belongs here). /health, /commands, and /metrics are
// unauthenticated liveness/introspection endpoints.
func (s *Server) authed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth == nil || !s.cfg.Auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		user, err := s.cfg.Auth.ValidateJWT(token)
		if err != nil {
			s.logger.Warn("jwt validation failed", "error", err)
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": format.FormatDurationMsInt(time.Since(s.startTime).Milliseconds()),
	})
}

func (s *Server) handleCommandsList(w http.ResponseWriter, r *http.Request) {
	tools := s.cfg.Registry.Definitions()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	commands := []string{}
	if s.cfg.Commands != nil {
		commands = s.cfg.Commands.Names()
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": names, "commands": commands})
}

// handleMention implements POST /mention: blocking, a single terminal JSON
// frame (spec.md §4.9).
func (s *Server) handleMention(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeMention(w, r)
	if !ok {
		return
	}

	events := s.runOrchestrator(r.Context(), req)
	for ev := range events {
		if ev.Kind == orchestrator.EventProcessing {
			continue // /mention discards intermediate frames; use /mention/stream for those.
		}
		writeJSON(w, http.StatusOK, models.MentionResponse{
			RequestID: req.RequestID,
			Status:    eventStatus(ev.Kind),
			Message:   ev.Message,
		})
		return
	}
}

// handleMentionStream implements POST /mention/stream: a newline-delimited
// JSON stream. Headers disable intermediary buffering per spec.md §6.
func (s *Server) handleMentionStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeMention(w, r)
	if !ok {
		return
	}

	setStreamingHeaders(w)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	events := s.runOrchestrator(r.Context(), req)
	for ev := range events {
		_ = enc.Encode(models.MentionResponse{
			RequestID: req.RequestID,
			Status:    eventStatus(ev.Kind),
			Message:   ev.Message,
		})
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) decodeMention(w http.ResponseWriter, r *http.Request) (models.MentionRequest, bool) {
	var req models.MentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.PermissionLevel == models.PermIgnored {
		writeJSONError(w, http.StatusForbidden, "ignored users may not use this endpoint")
		return req, false
	}
	return req, true
}

func (s *Server) runOrchestrator(ctx context.Context, req models.MentionRequest) <-chan orchestrator.Event {
	var memory []models.RuleEntry
	if s.cfg.Rules != nil {
		if mem, err := s.cfg.Rules.Get(req.Nick); err == nil && mem != nil {
			memory = mem.Enabled()
		}
	}

	promptText, _ := prompt.Assemble(prompt.Request{
		Now:      time.Now(),
		Channel:  req.Channel,
		Nick:     req.Nick,
		Message:  req.Message,
		DeepMode: req.DeepMode,
		Memory:   memory,
		History:  req.History,
	})

	return s.cfg.Loop.Stream(ctx, orchestrator.Request{
		RequestID:       req.RequestID,
		Nick:            req.Nick,
		Channel:         req.Channel,
		Prompt:          promptText,
		PermissionLevel: req.PermissionLevel,
		DeepMode:        req.DeepMode,
	})
}

// handleJoinCheck implements POST /irc/join-check (spec.md §6).
func (s *Server) handleJoinCheck(w http.ResponseWriter, r *http.Request) {
	var req models.JoinCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.cfg.Reminders == nil {
		writeJSON(w, http.StatusOK, models.JoinCheckResponse{Messages: []string{}})
		return
	}
	reminders, err := s.cfg.Reminders.PullJoinReminders(r.Context(), req.Nick, req.Channel)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to pull reminders")
		return
	}
	messages := make([]string, 0, len(reminders))
	for _, rem := range reminders {
		messages = append(messages, fmt.Sprintf("Reminder from %s: %s", rem.CreatorNick, rem.Message))
	}
	writeJSON(w, http.StatusOK, models.JoinCheckResponse{Messages: messages})
}

func eventStatus(kind orchestrator.EventKind) models.MentionStatus {
	switch kind {
	case orchestrator.EventSuccess:
		return models.StatusSuccess
	case orchestrator.EventNull:
		return models.StatusNull
	case orchestrator.EventError:
		return models.StatusError
	default:
		return models.StatusProcessing
	}
}

func setStreamingHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
