// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/metrics"
	"github.com/ManuGH/hm2g/internal/middleware"
	"github.com/ManuGH/hm2g/internal/xmlrpc"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultHealthRateLimit = 60
	defaultMaxConns        = 256
	maxRequestBody         = 2 << 20
)

// Config holds the listener parameters. BindAddr plus Port also key the
// registry; identical values resolve to the same server handle.
type Config struct {
	// BindAddr is the local address the listener binds to.
	BindAddr string
	// Port is the TCP port; 0 picks a free one.
	Port int
	// ShutdownTimeout bounds how long Stop waits for background push
	// tasks after cancelling them.
	ShutdownTimeout time.Duration
	// HealthRateLimit is the per-IP request budget per minute on the
	// health endpoint.
	HealthRateLimit int
	// MaxConns bounds concurrent accepted connections. A callback storm
	// queues in the kernel instead of exhausting file descriptors.
	MaxConns int
	// Tracing enables the OpenTelemetry HTTP middleware.
	Tracing bool

	// Server timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.HealthRateLimit <= 0 {
		c.HealthRateLimit = defaultHealthRateLimit
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	return c
}

// hostPort is the registry key for a config.
func (c Config) hostPort() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// Server exposes the XML-RPC endpoint the CCU pushes callbacks into and
// a JSON health endpoint. Inbound push calls resolve their interface id
// against the attached sessions; heavy ones run as tracked background
// tasks so the HTTP response returns before processing finishes.
type Server struct {
	cfg        Config
	dispatcher *Dispatcher
	logger     zerolog.Logger

	mu         sync.RWMutex
	sessions   []Session
	httpSrv    *http.Server
	listener   net.Listener
	rootCtx    context.Context
	rootCancel context.CancelFunc

	tasks       sync.WaitGroup
	activeTasks atomic.Int64

	started   atomic.Bool
	startedAt time.Time
	requests  atomic.Uint64
	errCount  atomic.Uint64
}

// New builds a server with its own dispatcher, the system.* entries and
// the CCU callback methods already registered. Prefer Registry's
// GetOrCreate over calling New directly so repeated construction with
// the same address yields the same handle.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:        cfg,
		dispatcher: NewDispatcher(),
		logger: log.WithComponent("rpcserver").With().
			Str(log.FieldListenAddr, cfg.hostPort()).Logger(),
	}
	s.registerCCUMethods()
	s.dispatcher.RegisterIntrospection()
	s.dispatcher.RegisterMulticall()
	return s
}

// Dispatcher exposes the method registry, mainly for tests and for
// consumers that add their own methods before Start.
func (s *Server) Dispatcher() *Dispatcher { return s.dispatcher }

// Attach adds a session to the routing set. Attaching a session that is
// already present is a no-op.
func (s *Server) Attach(sess Session) {
	if sess == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing == sess {
			return
		}
	}
	s.sessions = append(s.sessions, sess)
	metrics.SetRPCSessions(len(s.sessions))
	s.logger.Info().
		Str(log.FieldEvent, "rpc.session_attached").
		Str(log.FieldSessionID, sess.ID()).
		Int("sessions", len(s.sessions)).
		Msg("session attached")
}

// Detach removes a session. Detaching an unknown session is a no-op.
func (s *Server) Detach(sess Session) {
	if sess == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.sessions {
		if existing == sess {
			s.sessions = append(s.sessions[:i:i], s.sessions[i+1:]...)
			metrics.SetRPCSessions(len(s.sessions))
			s.logger.Info().
				Str(log.FieldEvent, "rpc.session_detached").
				Str(log.FieldSessionID, sess.ID()).
				Int("sessions", len(s.sessions)).
				Msg("session detached")
			return
		}
	}
}

// sessionFor resolves the owning session for an interface id, or nil
// when no attached session claims it.
func (s *Server) sessionFor(interfaceID string) Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.HasClient(interfaceID) {
			return sess
		}
	}
	return nil
}

// sessionIDs returns the attached session identifiers.
func (s *Server) sessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.sessions))
	for i, sess := range s.sessions {
		ids[i] = sess.ID()
	}
	return ids
}

// Start binds the listener and serves until Stop. Calling Start on a
// server that is already running logs a warning and returns nil.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn().
			Str(log.FieldEvent, "rpc.already_started").
			Msg("start called on a running server")
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.hostPort())
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("bind rpc listener: %w", err)
	}
	ln = netutil.LimitListener(ln, s.cfg.MaxConns)

	rootCtx, rootCancel := context.WithCancel(ctx)
	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpSrv = srv
	s.rootCtx = rootCtx
	s.rootCancel = rootCancel
	s.startedAt = time.Now()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().
				Err(err).
				Str(log.FieldEvent, "rpc.serve_failed").
				Msg("listener terminated")
		}
	}()

	s.logger.Info().
		Str(log.FieldEvent, "rpc.started").
		Str(log.FieldListenAddr, ln.Addr().String()).
		Msg("xmlrpc server listening")
	return nil
}

// Stop shuts the listener down, cancels every outstanding background
// task and waits for them within the configured bound. Stopping a
// server that never started is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.started.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	srv := s.httpSrv
	cancel := s.rootCancel
	s.httpSrv = nil
	s.listener = nil
	s.rootCtx = nil
	s.rootCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if srv != nil {
		shutdownCtx, release := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer release()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			err = fmt.Errorf("http shutdown: %w", serr)
		}
	}

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn().
			Str(log.FieldEvent, "rpc.shutdown_timeout").
			Int64("remaining_tasks", s.activeTasks.Load()).
			Msg("background tasks did not drain before deadline")
	}

	s.logger.Info().
		Str(log.FieldEvent, "rpc.stopped").
		Uint64("requests", s.requests.Load()).
		Uint64("errors", s.errCount.Load()).
		Msg("xmlrpc server stopped")
	return err
}

// ListenAddr reports the bound address once started, else the
// configured one. With Port 0 this is how callers learn the real port.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.hostPort()
}

// spawn runs fn as a tracked fire-and-forget task tied to the server
// lifecycle. The CCU enforces a short RPC timeout, so push handlers
// must not run on the request goroutine.
func (s *Server) spawn(method, interfaceID string, fn func(ctx context.Context) error) {
	s.mu.RLock()
	ctx := s.rootCtx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.tasks.Add(1)
	metrics.SetBackgroundTasks(int(s.activeTasks.Add(1)))
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str(log.FieldEvent, "rpc.push_task_panic").
					Str(log.FieldMethod, method).
					Str(log.FieldInterfaceID, interfaceID).
					Interface("panic", r).
					Msg("push task panicked")
			}
			metrics.SetBackgroundTasks(int(s.activeTasks.Add(-1)))
			s.tasks.Done()
		}()
		err := fn(log.ContextWithInterfaceID(ctx, interfaceID))
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			s.logger.Debug().
				Str(log.FieldEvent, "rpc.push_task_cancelled").
				Str(log.FieldMethod, method).
				Str(log.FieldInterfaceID, interfaceID).
				Msg("push task cancelled during shutdown")
		default:
			s.logger.Warn().
				Err(err).
				Str(log.FieldEvent, "rpc.push_task_failed").
				Str(log.FieldMethod, method).
				Str(log.FieldInterfaceID, interfaceID).
				Msg("push task failed")
		}
	}()
}

// Started reports whether the listener is running.
func (s *Server) Started() bool {
	return s.started.Load()
}

// ActiveBackgroundTasks reports the number of in-flight push tasks.
func (s *Server) ActiveBackgroundTasks() int {
	return int(s.activeTasks.Load())
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Recoverer outermost, then correlation, then observability.
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if s.cfg.Tracing {
		r.Use(middleware.OTelHTTP("hm2g-rpc"))
	}
	r.Use(log.Middleware())

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(
			s.cfg.HealthRateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
			}),
		))
		r.Get("/health", s.handleHealth)
	})

	// The CCU posts to the path given in init's callback URL; both the
	// bare root and the conventional /RPC2 are accepted.
	r.Post("/", s.handleRPC)
	r.Post("/RPC2", s.handleRPC)
	return r
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		s.errCount.Add(1)
		metrics.IncRPCServerError("decode")
		http.Error(w, "unreadable request body", http.StatusBadRequest)
		return
	}

	resp, err := s.dispatcher.Dispatch(r.Context(), body)
	if err != nil {
		s.errCount.Add(1)
		if errors.Is(err, xmlrpc.ErrMalformedRequest) {
			metrics.IncRPCServerError("decode")
			http.Error(w, "malformed xmlrpc request", http.StatusBadRequest)
			return
		}
		metrics.IncRPCServerError("handler")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp); err != nil {
		s.errCount.Add(1)
		metrics.IncRPCServerError("write")
		s.logger.Debug().
			Err(err).
			Str(log.FieldEvent, "rpc.response_write_failed").
			Str(log.FieldRemoteAddr, r.RemoteAddr).
			Msg("client went away before the response was written")
	}
}

type healthResponse struct {
	Status                string   `json:"status"`
	Started               bool     `json:"started"`
	CentralsCount         int      `json:"centrals_count"`
	Centrals              []string `json:"centrals"`
	ActiveBackgroundTasks int      `json:"active_background_tasks"`
	RequestCount          uint64   `json:"request_count"`
	ErrorCount            uint64   `json:"error_count"`
	ListenAddress         string   `json:"listen_address"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ids := s.sessionIDs()
	resp := healthResponse{
		Status:                "ok",
		Started:               s.started.Load(),
		CentralsCount:         len(ids),
		Centrals:              ids,
		ActiveBackgroundTasks: int(s.activeTasks.Load()),
		RequestCount:          s.requests.Load(),
		ErrorCount:            s.errCount.Load(),
		ListenAddress:         s.ListenAddr(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug().Err(err).Str(log.FieldEvent, "rpc.health_write_failed").Msg("health response not written")
	}
}
