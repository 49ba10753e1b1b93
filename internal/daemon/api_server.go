package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"reel/internal/api"
	"reel/internal/capture"
	"reel/internal/config"
	"reel/internal/faults"
	"reel/internal/logging"
	"reel/internal/session"
	"reel/internal/store"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API binds to loopback; browsers are not a client here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/sessions", srv.handleSessions)
	mux.HandleFunc("/api/sessions/", srv.handleSessionItem)
	mux.HandleFunc("/api/events", srv.handleEvents)
	mux.HandleFunc("/api/notifications/test", srv.handleTestNotification)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound listen address, for tests that bind port 0.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:          status.Running,
		PID:              status.PID,
		DatabasePath:     status.DatabasePath,
		LockFilePath:     status.LockFilePath,
		ActiveSession:    status.ActiveSession,
		Paused:           status.Paused,
		Sessions:         status.Health.Sessions,
		PendingTasks:     status.Health.PendingTasks,
		SendingTasks:     status.Health.SendingTasks,
		AbandonedTasks:   status.Health.AbandonedTasks,
		WatchedSessions:  status.Health.Processing,
		NotificationsSet: strings.TrimSpace(s.daemon.cfg.Notifications.NtfyTopic) != "",
	})
}

func (s *apiServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var statuses []store.SessionStatus
		for _, value := range r.URL.Query()["status"] {
			parsed, ok := store.ParseStatus(value)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
				return
			}
			statuses = append(statuses, parsed)
		}
		sessions, err := s.daemon.Sessions(r.Context(), statuses...)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: api.FromSessions(sessions)})

	case http.MethodPost:
		var req api.StartSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		created, err := s.daemon.StartSession(r.Context(), req.Title)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, api.SessionResponse{Session: api.FromSession(created)})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleSessionItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	id, action, _ := strings.Cut(rest, "/")

	// Control verbs on the active session carry no id.
	if action == "" && r.Method == http.MethodPost {
		switch id {
		case "stop":
			ended, err := s.daemon.StopSession(r.Context())
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: api.FromSession(ended)})
			return
		case "pause":
			s.writeControlResult(w, s.daemon.PauseSession(r.Context()))
			return
		case "resume":
			s.writeControlResult(w, s.daemon.ResumeSession(r.Context()))
			return
		}
	}

	if id == "" {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		found, err := s.daemon.Session(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: api.FromSession(found)})

	case action == "" && r.Method == http.MethodDelete:
		if err := s.daemon.DeleteSession(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})

	case action == "retry" && r.Method == http.MethodPost:
		retried, err := s.daemon.RetrySession(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: api.FromSession(retried)})

	case action == "tasks" && r.Method == http.MethodGet:
		tasks, err := s.daemon.Tasks(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.TaskListResponse{Tasks: api.FromTasks(tasks)})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleEvents streams committed session snapshots over a websocket.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.daemon.Watch(64)
	defer cancel()

	// Reader goroutine: we never expect client messages, but reading is how
	// close frames surface.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-clientGone:
			return
		case snapshot, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(api.Event{Type: "session", Session: api.FromSession(snapshot)}); err != nil {
				return
			}
		}
	}
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("%s: %v", message, err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sent": sent, "message": message})
}

func (s *apiServer) writeControlResult(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// writeDomainError maps domain failures onto HTTP statuses.
func (s *apiServer) writeDomainError(w http.ResponseWriter, err error) {
	var invalid *session.InvalidTransitionError
	switch {
	case errors.Is(err, session.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrRecorderBusy), errors.As(err, &invalid):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, capture.ErrNotRecording):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, faults.ErrPermissionDenied), errors.Is(err, faults.ErrStorageExhausted):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, faults.ErrTransientDelivery), errors.Is(err, faults.ErrPermanentDelivery):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}
