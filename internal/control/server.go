// Package control exposes the engine over local HTTP so a browser extension
// or script can start, stop and watch it.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"slices"
	"time"

	"jobwatch/internal/domain"
	"jobwatch/internal/eventbus"
	"jobwatch/internal/scheduler"
)

type Engine interface {
	Start(ctx context.Context, cfg domain.FilterConfig, cred domain.Credential, opts ...scheduler.StartOption) error
	Stop() error
	Status() domain.Status
	Subscribe(buffer int) (<-chan eventbus.Event, func())
}

// Defaults is the start snapshot used when a request does not carry its own.
type Defaults struct {
	Config     domain.FilterConfig
	Credential domain.Credential
	Clamp      bool
}

type Config struct {
	// AllowedOrigins lists the browser origins (for example
	// "chrome-extension://<id>") that may call the server. Requests without
	// an Origin header, such as curl, are always allowed.
	AllowedOrigins []string
}

type Server struct {
	engine   Engine
	defaults func() Defaults
	origins  []string
	logger   *slog.Logger
	mux      *http.ServeMux
}

func New(engine Engine, defaults func() Defaults, cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		engine:   engine,
		defaults: defaults,
		origins:  cfg.AllowedOrigins,
		logger:   logger.With("component", "control"),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /start", s.sameOrigin(s.handleStart))
	s.mux.HandleFunc("POST /stop", s.sameOrigin(s.handleStop))
	s.mux.HandleFunc("GET /running", s.handleRunning)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("OPTIONS /", s.handlePreflight)
}

func (s *Server) Handler() http.Handler {
	return s.withCORS(s.mux)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) originAllowed(origin string) bool {
	return origin == "" || slices.Contains(s.origins, origin)
}

// withCORS echoes an allowed Origin back. Other origins get no CORS
// headers, so browsers keep responses from them.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

// sameOrigin refuses state-changing requests sent by pages of a foreign
// origin. Browsers attach Origin to every cross-origin POST.
func (s *Server) sameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); !s.originAllowed(origin) {
			s.logger.Warn("refused request from foreign origin", "origin", origin, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, result{Error: "origin not allowed"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); !s.originAllowed(origin) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type startRequest struct {
	Config     *domain.FilterConfig `json:"config"`
	Credential *domain.Credential   `json:"credential"`
	Clamp      *bool                `json:"clampInterval"`
}

type result struct {
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
	IsRunning *bool            `json:"isRunning,omitempty"`
	Indicator domain.Indicator `json:"indicator,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, result{Error: "content type must be application/json"})
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, result{Error: "invalid JSON: " + err.Error()})
		return
	}

	d := s.defaults()
	if req.Config != nil {
		d.Config = *req.Config
	}
	if req.Credential != nil {
		d.Credential = *req.Credential
	}
	if req.Clamp != nil {
		d.Clamp = *req.Clamp
	}

	var opts []scheduler.StartOption
	if d.Clamp {
		opts = append(opts, scheduler.WithClampInterval())
	}

	if err := s.engine.Start(r.Context(), d.Config, d.Credential, opts...); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, domain.ErrConfigInvalid):
			status = http.StatusBadRequest
		}
		s.logger.Warn("start rejected", "error", err)
		writeJSON(w, status, result{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result{Success: true})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Stop(); err != nil {
		s.logger.Warn("stop", "error", err)
	}
	writeJSON(w, http.StatusOK, result{Success: true})
}

func (s *Server) handleRunning(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	running := st.IsRunning()
	writeJSON(w, http.StatusOK, result{Success: true, IsRunning: &running, Indicator: st.Indicator})
}

// handleEvents streams engine events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := s.engine.Subscribe(16)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	st := s.engine.Status()
	if err := writeEvent(w, eventbus.TypeStatusChanged, domain.StatusChanged{
		IsRunning: st.IsRunning(),
		Indicator: st.Indicator,
		RunID:     st.RunID,
	}); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, e.Type, e.Data); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, typ string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, body)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
