// Package natsfe serves the gateway over NATS request/reply.
//
// Each operation has its own subject, prefix.get, prefix.add, prefix.update
// and prefix.delete. Every gateway instance joins the same queue group, so
// a request reaches exactly one of them. The reply body is the gateway's
// response text and the StatusHeader header tells a result from an error
// payload.
package natsfe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/metric"
	"github.com/c360/gqlpool/natsclient"
	"github.com/c360/gqlpool/pkg/worker"
	"github.com/c360/gqlpool/pool"
	"github.com/c360/gqlpool/translate"
	"github.com/c360/gqlpool/wire"
)

// StatusHeader carries StatusOK or StatusError on every reply.
const StatusHeader = "Gqlpool-Status"

// Values of StatusHeader.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Subject returns the subject serving op under prefix.
func Subject(prefix string, op wire.Op) string {
	return prefix + "." + op.String()
}

// Config configures the NATS front-end.
type Config struct {
	SubjectPrefix string        `json:"subject_prefix" yaml:"subject_prefix"`
	QueueGroup    string        `json:"queue_group" yaml:"queue_group"`
	Workers       int           `json:"workers" yaml:"workers"`
	QueueSize     int           `json:"queue_size" yaml:"queue_size"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the front-end defaults.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix: "gqlpool",
		QueueGroup:    "gqlpool",
		Workers:       8,
		QueueSize:     256,
		Timeout:       30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SubjectPrefix == "" {
		return fmt.Errorf("%w: subject_prefix", errors.ErrMissingConfig)
	}
	if c.QueueGroup == "" {
		return fmt.Errorf("%w: queue_group", errors.ErrMissingConfig)
	}
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return fmt.Errorf("%w: workers and queue_size must be positive", errors.ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", errors.ErrInvalidConfig)
	}
	return nil
}

// Subscriber is the part of *natsclient.Client the front-end needs.
type Subscriber interface {
	QueueSubscribe(ctx context.Context, subject, queue string, handler natsclient.RequestHandler) error
}

// Gateway runs one request.
type Gateway interface {
	Do(op wire.Op, text string) *pool.Future
}

// Deps holds the front-end's collaborators.
type Deps struct {
	Gateway         Gateway
	Subscriber      Subscriber
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry // optional
}

type request struct {
	op      wire.Op
	body    string
	respond func(natsclient.Reply) error
}

// Server hands NATS requests to a worker pool that waits on the gateway.
type Server struct {
	cfg        Config
	gateway    Gateway
	subscriber Subscriber
	logger     *slog.Logger
	workers    *worker.Pool[*request]

	mu      sync.Mutex
	started bool
}

// New creates the front-end.
func New(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Server", "New", "config validation")
	}
	if deps.Gateway == nil || deps.Subscriber == nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: gateway and subscriber", errors.ErrMissingConfig),
			"Server", "New", "validate deps")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		gateway:    deps.Gateway,
		subscriber: deps.Subscriber,
		logger:     logger.With("component", "natsfe"),
	}

	opts := []worker.Option[*request]{
		worker.WithLogger[*request](s.logger),
		worker.WithDiscard(s.discard),
	}
	if deps.MetricsRegistry != nil {
		opts = append(opts, worker.WithMetricsRegistry[*request](deps.MetricsRegistry, "gqlpool_natsfe"))
	}
	workers, err := worker.NewPool(cfg.Workers, cfg.QueueSize, s.process, opts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Server", "New", "create worker pool")
	}
	s.workers = workers
	return s, nil
}

// Start starts the workers and subscribes to every operation subject.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "check state")
	}
	if err := s.workers.Start(ctx); err != nil {
		return errors.WrapFatal(err, "Server", "Start", "start workers")
	}

	for _, op := range []wire.Op{wire.OpGet, wire.OpAdd, wire.OpUpdate, wire.OpDelete} {
		subject := Subject(s.cfg.SubjectPrefix, op)
		if err := s.subscriber.QueueSubscribe(ctx, subject, s.cfg.QueueGroup, s.handler(op)); err != nil {
			_ = s.workers.Stop(time.Second)
			return errors.WrapTransient(err, "Server", "Start", fmt.Sprintf("subscribe %s", subject))
		}
	}

	s.started = true
	s.logger.Info("NATS front-end started",
		"prefix", s.cfg.SubjectPrefix, "queue_group", s.cfg.QueueGroup, "workers", s.cfg.Workers)
	return nil
}

// Stop stops the workers. Requests still queued are answered with a
// shutdown error; requests arriving afterwards are refused the same way.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	if err := s.workers.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "stop workers")
	}
	s.logger.Info("NATS front-end stopped")
	return nil
}

// Stats returns the worker pool's statistics.
func (s *Server) Stats() worker.PoolStats {
	return s.workers.Stats()
}

func (s *Server) handler(op wire.Op) natsclient.RequestHandler {
	return func(_ context.Context, data []byte, respond func(natsclient.Reply) error) {
		req := &request{op: op, body: string(data), respond: respond}

		err := s.workers.Submit(req)
		switch {
		case err == nil:
			return
		case errors.Is(err, worker.ErrQueueFull):
			err = errors.WrapTransient(fmt.Errorf("%w: request queue is full", errors.ErrBusy), "Server", "handler", "submit request")
		default:
			err = errors.WrapTransient(errors.Join(errors.ErrShuttingDown, err), "Server", "handler", "submit request")
		}
		s.reply(req, translate.RenderError(err), err)
	}
}

func (s *Server) process(ctx context.Context, req *request) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := s.gateway.Do(req.op, req.body).Wait(ctx)
	if err != nil && body == "" {
		body = translate.RenderError(err)
	}
	s.reply(req, body, err)
	return err
}

func (s *Server) discard(req *request) {
	err := errors.WrapTransient(errors.ErrShuttingDown, "Server", "discard", "drain queue")
	s.reply(req, translate.RenderError(err), err)
}

func (s *Server) reply(req *request, body string, cause error) {
	status := StatusOK
	if cause != nil {
		status = StatusError
	}
	err := req.respond(natsclient.Reply{
		Data:   []byte(body),
		Header: map[string]string{StatusHeader: status},
	})
	if err != nil {
		s.logger.Debug("Failed to send reply", "op", req.op.String(), "error", err)
	}
}
