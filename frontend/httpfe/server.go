// Package httpfe serves the gateway over HTTP and WebSocket.
package httpfe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/health"
	"github.com/c360/gqlpool/pkg/retry"
	"github.com/c360/gqlpool/pool"
	"github.com/c360/gqlpool/wire"
)

// Config configures the HTTP front-end.
type Config struct {
	Address          string        `json:"address" yaml:"address"`
	Path             string        `json:"path" yaml:"path"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	MaxRequestSize   int64         `json:"max_request_size" yaml:"max_request_size"`
	EnablePlayground bool          `json:"enable_playground" yaml:"enable_playground"`
	EnableCORS       bool          `json:"enable_cors" yaml:"enable_cors"`
	CORSOrigins      []string      `json:"cors_origins" yaml:"cors_origins"`
}

// DefaultConfig returns the front-end defaults.
func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1:8080",
		Path:           "/query",
		Timeout:        30 * time.Second,
		MaxRequestSize: wire.MaxFrameSize,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address", errors.ErrMissingConfig)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", errors.ErrInvalidConfig, c.Path)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", errors.ErrInvalidConfig)
	}
	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: max_request_size must be positive", errors.ErrInvalidConfig)
	}
	return nil
}

// Gateway is the part of *gateway.Gateway the front-end serves.
type Gateway interface {
	Do(op wire.Op, text string) *pool.Future
	Ping(ctx context.Context) error
	Stats() pool.Stats
}

// Deps holds the front-end's collaborators.
type Deps struct {
	Gateway Gateway
	Metrics http.Handler // served at /metrics when set
	Logger  *slog.Logger
}

// Request is the body of a query request and of a WebSocket message.
// Op defaults to "get".
type Request struct {
	ID    string `json:"id,omitempty"`
	Op    string `json:"op,omitempty"`
	Query string `json:"query"`
}

// Server is the HTTP front-end.
type Server struct {
	cfg      Config
	gateway  Gateway
	metrics  http.Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	running    bool
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
	closing    chan struct{}

	sockets sync.WaitGroup
}

// New creates the front-end.
func New(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Server", "New", "config validation")
	}
	if deps.Gateway == nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: gateway", errors.ErrMissingConfig), "Server", "New", "validate deps")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		gateway: deps.Gateway,
		metrics: deps.Metrics,
		logger:  logger.With("component", "httpfe"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	return s, nil
}

// Handler returns the front-end's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleQuery)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	if s.cfg.EnablePlayground {
		mux.Handle("/", playground.Handler("gqlpool", s.cfg.Path))
	}

	var handler http.Handler = mux
	if s.cfg.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

// Start binds the address and serves until Stop or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "check state")
	}

	listener, err := retry.DoWithResult(ctx, retry.Bind(), func() (net.Listener, error) {
		return net.Listen("tcp", s.cfg.Address)
	})
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("bind %s", s.cfg.Address))
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.httpServer = server
	s.listener = listener
	s.done = make(chan struct{})
	s.closing = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop(5 * time.Second)
		case <-s.done:
		}
	}()

	s.logger.Info("HTTP front-end started", "address", listener.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down, waiting up to timeout for requests in flight.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	server, done := s.httpServer, s.done
	close(s.closing)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Shutdown does not wait for hijacked connections.
	if err := server.Shutdown(ctx); err != nil {
		_ = server.Close()
		return errors.WrapTransient(err, "Server", "Stop", "graceful shutdown")
	}
	<-done
	s.sockets.Wait()

	s.logger.Info("HTTP front-end stopped")
	return nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxRequestSize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(data)) > s.cfg.MaxRequestSize {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", s.cfg.MaxRequestSize))
		return
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "request body must be a JSON object with a query")
		return
	}
	op, err := parseOp(req.Op)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	body, err := s.gateway.Do(op, req.Query).Wait(ctx)
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		if body == "" {
			s.writeError(w, status, "request timeout")
			return
		}
		s.logger.Debug("Request failed", "request_id", requestID, "op", op.String(), "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func parseOp(name string) (wire.Op, error) {
	if name == "" {
		return wire.OpGet, nil
	}
	return wire.ParseOp(strings.ToLower(name))
}

// statusFor maps a request error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errors.ErrShuttingDown), errors.Is(err, errors.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats := s.gateway.Stats()
	metrics := &health.Metrics{Connections: stats.Connections, Queued: stats.Queued}

	var parts []health.Status
	if !stats.Running {
		parts = append(parts, health.NewUnhealthy("reactor", "reactor is not running").WithMetrics(metrics))
	} else {
		parts = append(parts, health.NewHealthy("reactor", "accepting requests").WithMetrics(metrics))
		if err := s.gateway.Ping(ctx); err != nil {
			parts = append(parts, health.NewDegraded("backend", health.Sanitize(err.Error())))
		} else {
			parts = append(parts, health.NewHealthy("backend", "reachable"))
		}
	}
	report := health.Aggregate("gqlpool", parts)

	code := http.StatusOK
	if !report.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	data, _ := json.Marshal(map[string]any{
		"errors": []map[string]any{{"message": message}},
	})
	_, _ = w.Write(data)
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if !s.cfg.EnableCORS {
		return strings.HasSuffix(origin, "://"+r.Host)
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.originAllowed(r) {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
