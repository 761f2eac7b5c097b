package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/metric"
	"github.com/c360/gqlpool/pool"
	"github.com/c360/gqlpool/schema"
	"github.com/c360/gqlpool/translate"
	"github.com/c360/gqlpool/wire"
)

// Config configures a Gateway.
type Config struct {
	Listen              string
	LoopbackConnections int
	OutboundBuffer      int
	SubmitBuffer        int

	// Bootstrap creates the schema's tables before the gateway starts
	// serving. Existing tables are kept.
	Bootstrap bool
}

// DefaultConfig returns the reactor defaults with bootstrapping enabled.
func DefaultConfig() Config {
	rc := pool.DefaultConfig()
	return Config{
		Listen:              rc.Listen,
		LoopbackConnections: rc.LoopbackConnections,
		OutboundBuffer:      rc.OutboundBuffer,
		SubmitBuffer:        rc.SubmitBuffer,
		Bootstrap:           true,
	}
}

// Store is the backend a gateway runs against. *backend.Store satisfies it.
type Store interface {
	pool.Store
	Bootstrap(ctx context.Context, h *schema.Handle) error
	Destroy(ctx context.Context, h *schema.Handle) error
	Ping(ctx context.Context) error
}

// Deps holds the gateway's collaborators.
type Deps struct {
	Schema  *schema.Handle
	Store   Store
	Logger  *slog.Logger
	Metrics *metric.Metrics // optional
}

// Gateway accepts query and mutation text, runs it on the reactor's
// connections and hands back a future per request.
type Gateway struct {
	cfg     Config
	schema  *schema.Handle
	store   Store
	reactor *pool.Reactor
	logger  *slog.Logger
	started atomic.Bool
}

// New wires a gateway. Nothing is bound or executed until Start.
func New(cfg Config, deps Deps) (*Gateway, error) {
	if deps.Schema == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: schema", errors.ErrMissingConfig), "Gateway", "New", "validate deps")
	}
	if deps.Store == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: store", errors.ErrMissingConfig), "Gateway", "New", "validate deps")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executor := pool.NewExecutor(translate.New(deps.Schema), deps.Store)
	reactor, err := pool.NewReactor(pool.Config{
		Listen:              cfg.Listen,
		LoopbackConnections: cfg.LoopbackConnections,
		OutboundBuffer:      cfg.OutboundBuffer,
		SubmitBuffer:        cfg.SubmitBuffer,
	}, pool.Deps{
		Handler: executor,
		Logger:  logger,
		Metrics: deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Gateway{
		cfg:     cfg,
		schema:  deps.Schema,
		store:   deps.Store,
		reactor: reactor,
		logger:  logger.With("component", "gateway", "database", deps.Schema.Database),
	}, nil
}

// Start bootstraps the database when configured to and starts the reactor.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Gateway", "Start", "check state")
	}

	if g.cfg.Bootstrap {
		if err := g.store.Bootstrap(ctx, g.schema); err != nil {
			return errors.WrapFatal(err, "Gateway", "Start", "bootstrap database")
		}
		g.logger.Info("Database bootstrapped", "tables", len(g.schema.Tables))
	}

	if err := g.reactor.Start(ctx); err != nil {
		return err
	}
	g.logger.Info("Gateway started", "address", g.reactor.Addr().String())
	return nil
}

// Stop stops the reactor. Work that has not been processed resolves with
// ErrShuttingDown.
func (g *Gateway) Stop(timeout time.Duration) error {
	if err := g.reactor.Stop(timeout); err != nil {
		return err
	}
	g.logger.Info("Gateway stopped")
	return nil
}

// Get submits a query.
func (g *Gateway) Get(query string) *pool.Future {
	return g.Do(wire.OpGet, query)
}

// Add submits an insert mutation.
func (g *Gateway) Add(mutation string) *pool.Future {
	return g.Do(wire.OpAdd, mutation)
}

// Update submits an update mutation.
func (g *Gateway) Update(mutation string) *pool.Future {
	return g.Do(wire.OpUpdate, mutation)
}

// Delete submits a delete mutation.
func (g *Gateway) Delete(mutation string) *pool.Future {
	return g.Do(wire.OpDelete, mutation)
}

// Do submits text as op. The future always resolves: with the response
// text, or with an error payload and the error.
func (g *Gateway) Do(op wire.Op, text string) *pool.Future {
	if !op.Valid() {
		err := errors.WrapInvalid(
			fmt.Errorf("%w: unknown operation %d", errors.ErrInvalidData, byte(op)), "Gateway", "Do", "check operation")
		return pool.Resolved(translate.RenderError(err), err)
	}

	item := pool.NewWorkItem(op, text)
	if err := g.reactor.Submit(item); err != nil {
		g.logger.Debug("Work item rejected", "id", item.ID, "op", op.String(), "error", err)
	}
	return item.Future()
}

// DestroyDatabase drops the schema's tables, or the whole database where
// the backend supports it.
func (g *Gateway) DestroyDatabase(ctx context.Context) error {
	if err := g.store.Destroy(ctx, g.schema); err != nil {
		return errors.Wrap(err, "Gateway", "DestroyDatabase", "destroy")
	}
	g.logger.Warn("Database destroyed")
	return nil
}

// Ping checks the backend.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

// Addr returns the reactor's listener address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	return g.reactor.Addr()
}

// Stats returns the reactor's connection and queue counts.
func (g *Gateway) Stats() pool.Stats {
	return g.reactor.Stats()
}

// Schema returns the schema the gateway serves.
func (g *Gateway) Schema() *schema.Handle {
	return g.schema
}
