package pool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/metric"
	"github.com/c360/gqlpool/pkg/retry"
	"github.com/c360/gqlpool/translate"
	"github.com/c360/gqlpool/wire"
)

// Config configures a Reactor.
type Config struct {
	// Listen is the TCP address the reactor accepts connections on.
	Listen string

	// LoopbackConnections is the number of sockets the reactor dials into
	// its own listener at start. They serve Gateway API work when no
	// external client is connected.
	LoopbackConnections int

	// OutboundBuffer bounds the response frames queued per connection.
	// A connection whose buffer is full is closed.
	OutboundBuffer int

	// SubmitBuffer bounds work items handed to the reactor but not yet
	// taken into the inbound queue.
	SubmitBuffer int
}

// DefaultConfig returns the reactor defaults.
func DefaultConfig() Config {
	return Config{
		Listen:              "127.0.0.1:7878",
		LoopbackConnections: 4,
		OutboundBuffer:      64,
		SubmitBuffer:        1024,
	}
}

// Deps holds the reactor's collaborators.
type Deps struct {
	Handler Handler
	Logger  *slog.Logger
	Metrics *metric.Metrics // optional
}

// Stats is a point-in-time view of the reactor.
type Stats struct {
	Running     bool
	Connections int
	Queued      int
}

type eventKind int

const (
	evAccept eventKind = iota
	evRequest
	evWritable
	evCollectable
	evClosed
)

type event struct {
	kind  eventKind
	token Token
	conn  net.Conn
	req   wire.Request
	err   error
}

// Reactor multiplexes the listener and every accepted connection on one
// goroutine. That goroutine owns the connection table and both queues;
// other goroutines reach it only through the submit and events channels.
// Work items are processed synchronously, one at a time, in FIFO order.
type Reactor struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	metrics *metric.Metrics

	listener net.Listener

	// Owned by the reactor goroutine.
	conns     map[Token]*Connection
	nextToken Token
	inbound   []*WorkItem
	outbound  []*Response
	idle      []Token
	pending   []event
	draining  bool

	events chan event
	submit chan *WorkItem

	mu       sync.RWMutex
	running  bool
	loopback []net.Conn

	started  atomic.Bool
	stopOnce sync.Once
	stopping chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	openConns atomic.Int64
	queued    atomic.Int64
}

// NewReactor creates a reactor. Start binds the listener.
func NewReactor(cfg Config, deps Deps) (*Reactor, error) {
	if deps.Handler == nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: handler", errors.ErrMissingConfig),
			"Reactor", "NewReactor", "validate dependencies")
	}
	if cfg.Listen == "" {
		return nil, errors.WrapFatal(fmt.Errorf("%w: listen address", errors.ErrMissingConfig),
			"Reactor", "NewReactor", "validate config")
	}
	if cfg.LoopbackConnections < 0 {
		return nil, errors.WrapFatal(fmt.Errorf("%w: negative loopback connections", errors.ErrInvalidConfig),
			"Reactor", "NewReactor", "validate config")
	}

	def := DefaultConfig()
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = def.OutboundBuffer
	}
	if cfg.SubmitBuffer <= 0 {
		cfg.SubmitBuffer = def.SubmitBuffer
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reactor{
		cfg:       cfg,
		handler:   deps.Handler,
		logger:    logger.With("component", "reactor"),
		metrics:   deps.Metrics,
		conns:     make(map[Token]*Connection),
		nextToken: ListenerToken + 1,
		events:    make(chan event, cfg.SubmitBuffer),
		submit:    make(chan *WorkItem, cfg.SubmitBuffer),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start binds the listener, starts the reactor goroutine and dials the
// loopback connections. The reactor runs until Stop is called or ctx is
// cancelled.
func (r *Reactor) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Reactor", "Start", "check state")
	}

	listener, err := retry.DoWithResult(ctx, retry.Bind(), func() (net.Listener, error) {
		return net.Listen("tcp", r.cfg.Listen)
	})
	if err != nil {
		close(r.done)
		return errors.WrapFatal(errors.Join(errors.ErrPool, err), "Reactor", "Start",
			fmt.Sprintf("bind %s", r.cfg.Listen))
	}
	r.listener = listener
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.acceptLoop()
	go r.run()

	r.logger.Info("Reactor started", "address", listener.Addr().String(),
		"loopback", r.cfg.LoopbackConnections)

	for i := 0; i < r.cfg.LoopbackConnections; i++ {
		if err := r.dialLoopback(ctx); err != nil {
			_ = r.Stop(5 * time.Second)
			return err
		}
	}
	return nil
}

func (r *Reactor) dialLoopback(ctx context.Context) error {
	addr := r.listener.Addr().String()
	conn, err := retry.DoWithResult(ctx, retry.Dial(), func() (net.Conn, error) {
		return net.Dial("tcp", addr)
	})
	if err != nil {
		return errors.WrapFatal(errors.Join(errors.ErrPool, err), "Reactor", "Start", "dial loopback connection")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		conn.Close()
		return errors.WrapTransient(errors.ErrShuttingDown, "Reactor", "Start", "dial loopback connection")
	}
	r.loopback = append(r.loopback, conn)
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (r *Reactor) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Stats returns connection and queue counts.
func (r *Reactor) Stats() Stats {
	r.mu.RLock()
	running := r.running
	r.mu.RUnlock()
	return Stats{
		Running:     running,
		Connections: int(r.openConns.Load()),
		Queued:      int(r.queued.Load()),
	}
}

// Submit hands item to the reactor. It never waits for processing. When it
// returns an error the item's future has already been resolved with it.
func (r *Reactor) Submit(item *WorkItem) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.running {
		cause := errors.ErrShuttingDown
		if !r.started.Load() {
			cause = errors.ErrNotStarted
		}
		return r.reject(item, errors.WrapTransient(cause, "Reactor", "Submit", "enqueue work item"))
	}

	r.queued.Add(1)
	select {
	case r.submit <- item:
		return nil
	case <-r.stopping:
		r.queued.Add(-1)
		return r.reject(item, errors.WrapTransient(errors.ErrShuttingDown, "Reactor", "Submit", "enqueue work item"))
	}
}

func (r *Reactor) reject(item *WorkItem, err error) error {
	item.future.resolve(translate.RenderError(err), err)
	return err
}

// Stop shuts the reactor down. Queued work items resolve with
// ErrShuttingDown and every socket is closed.
func (r *Reactor) Stop(timeout time.Duration) error {
	if !r.started.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "Reactor", "Stop", "check state")
	}
	r.beginStop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-r.done:
	case <-deadline.C:
		return errors.WrapTransient(errors.ErrPool, "Reactor", "Stop", "wait for reactor goroutine")
	}

	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-deadline.C:
		return errors.WrapTransient(errors.ErrPool, "Reactor", "Stop", "wait for connection goroutines")
	}
	return nil
}

// beginStop signals the reactor goroutine and cancels the context of the
// request being processed, so a blocked backend call cannot hold up Stop.
func (r *Reactor) beginStop() {
	r.stopOnce.Do(func() {
		close(r.stopping)
		if r.cancel != nil {
			r.cancel()
		}
	})
}

// post delivers an event from a connection or accept goroutine. It reports
// false once the reactor is stopping.
func (r *Reactor) post(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.stopping:
		return false
	}
}

func (r *Reactor) acceptLoop() {
	defer r.wg.Done()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.stopping:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Warn("Accept failed", "error", err)
			select {
			case <-r.stopping:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if !r.post(event{kind: evAccept, conn: conn}) {
			conn.Close()
			return
		}
	}
}

func (r *Reactor) run() {
	defer close(r.done)

	for {
		r.flush()

		select {
		case <-r.stopping:
			r.shutdown()
			return
		case <-r.ctx.Done():
			r.beginStop()
			r.shutdown()
			return
		default:
		}

		// Self-posted readiness goes first, but one external event is
		// taken per step so a burst of work cannot starve the sockets.
		if len(r.pending) > 0 {
			ev := r.pending[0]
			r.pending = r.pending[1:]
			r.handle(ev)

			select {
			case ev := <-r.events:
				r.handle(ev)
			case item := <-r.submit:
				r.enqueue(item)
			default:
			}
			continue
		}

		select {
		case <-r.stopping:
		case <-r.ctx.Done():
		case ev := <-r.events:
			r.handle(ev)
		case item := <-r.submit:
			r.enqueue(item)
		}
	}
}

func (r *Reactor) handle(ev event) {
	if ev.kind == evAccept {
		r.register(ev.conn)
		return
	}

	c, ok := r.conns[ev.token]
	if !ok {
		// Late events from a connection that is already closed.
		return
	}

	switch ev.kind {
	case evRequest:
		if ev.err != nil {
			err := errors.WrapInvalid(ev.err, "Connection", "Read", "decode request frame")
			r.write(c, wire.Response{Status: wire.StatusError, Body: translate.RenderError(err)})
			return
		}
		item := NewWorkItem(ev.req.Op, ev.req.Body)
		item.Origin = c.token
		r.queued.Add(1)
		r.enqueue(item)
	case evWritable:
		c.writable = len(c.out) == 0
		r.dispatch(c)
	case evCollectable:
		r.collect(c)
	case evClosed:
		r.closeConnection(c, ev.err)
	}
}

func (r *Reactor) register(conn net.Conn) {
	token := r.nextToken
	r.nextToken++

	c := newConnection(token, conn, r.handler, r.cfg.OutboundBuffer, r.logger)
	r.conns[token] = c
	r.openConns.Add(1)
	if r.metrics != nil {
		r.metrics.RecordAccept()
	}
	r.logger.Debug("Connection registered", "token", uint64(token), "remote", conn.RemoteAddr().String())

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		c.readLoop(r.post)
	}()
	go func() {
		defer r.wg.Done()
		c.writeLoop(r.post)
	}()
}

// enqueue appends item to the inbound queue and wakes an idle connection.
// The queued counter was raised when the item was handed over.
func (r *Reactor) enqueue(item *WorkItem) {
	item.enqueued = time.Now()
	r.inbound = append(r.inbound, item)
	r.recordDepth()
	r.dispatchIdle()
}

func (r *Reactor) dispatchIdle() {
	for len(r.inbound) > 0 && len(r.idle) > 0 {
		token := r.idle[0]
		r.idle = r.idle[1:]

		c, ok := r.conns[token]
		if !ok || !c.idle {
			continue
		}
		c.idle = false
		r.dispatch(c)
	}
}

// dispatch delivers output readiness: when c is armed for it, the head of
// the inbound queue is assigned to c and processed, and c is re-armed for
// collection. With nothing queued c is parked as idle.
func (r *Reactor) dispatch(c *Connection) {
	if r.draining {
		return
	}
	if c.interest != InterestDispatch || !c.writable || c.State() != StateAwaitingDispatch {
		return
	}
	if len(r.inbound) == 0 {
		if !c.idle {
			c.idle = true
			r.idle = append(r.idle, c.token)
		}
		return
	}

	item := r.inbound[0]
	r.inbound[0] = nil
	r.inbound = r.inbound[1:]
	r.queued.Add(-1)
	r.recordDepth()

	c.idle = false
	if err := c.Assign(item); err != nil {
		r.logger.Error("Assign failed", "token", uint64(c.token), "error", err)
		r.requeue(item)
		return
	}
	c.interest = InterestNone

	start := time.Now()
	if err := c.Process(r.ctx); err != nil {
		r.logger.Error("Process failed", "token", uint64(c.token), "error", err)
		return
	}
	if r.metrics != nil {
		status := "ok"
		if c.response != nil && c.response.Err != nil {
			status = "error"
		}
		r.metrics.RecordRequest(item.Op.String(), status, time.Since(start))
	}

	c.interest = InterestCollect
	r.pending = append(r.pending, event{kind: evCollectable, token: c.token})
}

// collect delivers input readiness of the buffered response: the response
// moves to the outbound queue and c is re-armed for dispatch.
func (r *Reactor) collect(c *Connection) {
	if c.interest != InterestCollect {
		return
	}
	resp, err := c.Collect()
	if err != nil {
		r.logger.Error("Collect failed", "token", uint64(c.token), "error", err)
		return
	}
	r.outbound = append(r.outbound, resp)

	c.interest = InterestDispatch
	r.dispatch(c)
}

// flush drains the outbound queue: every future is resolved and responses
// to socket requests are queued on their origin connection.
func (r *Reactor) flush() {
	// Closing a slow origin may hand back another response, so drain
	// until nothing is left.
	for len(r.outbound) > 0 {
		batch := r.outbound
		r.outbound = nil

		for _, resp := range batch {
			item := resp.Item
			item.future.resolve(resp.Body, resp.Err)

			// Items from the Gateway API carry no origin.
			if item.Origin == ListenerToken {
				continue
			}
			origin, ok := r.conns[item.Origin]
			if !ok {
				r.logger.Debug("Origin connection gone, dropping response", "id", item.ID, "token", uint64(item.Origin))
				continue
			}
			r.write(origin, wire.Response{Status: resp.Status(), Body: resp.Body})
		}
	}
}

// write queues resp on c. A body too large for one frame is replaced by an
// error payload so the peer still gets an answer and the socket stays open.
func (r *Reactor) write(c *Connection, resp wire.Response) {
	if len(resp.Body) > wire.MaxFrameSize {
		err := errors.WrapInvalid(
			fmt.Errorf("%w: response body is %d bytes, limit %d", errors.ErrFrameTooLarge, len(resp.Body), wire.MaxFrameSize),
			"Reactor", "write", "frame response")
		r.logger.Warn("Response too large for frame", "token", uint64(c.token), "bytes", len(resp.Body))
		resp = wire.Response{Status: wire.StatusError, Body: translate.RenderError(err)}
	}
	if !c.send(resp) {
		r.closeConnection(c, errors.WrapTransient(
			fmt.Errorf("%w: output buffer full", errors.ErrConnection), "Reactor", "write", "queue response"))
	}
}

func (r *Reactor) requeue(item *WorkItem) {
	r.inbound = append([]*WorkItem{item}, r.inbound...)
	r.queued.Add(1)
	r.recordDepth()
	if r.metrics != nil {
		r.metrics.RecordRequeue()
	}
}

// closeConnection deregisters c. An item it held unprocessed goes back to
// the head of the inbound queue; a response it computed but did not hand
// over goes to the outbound queue.
func (r *Reactor) closeConnection(c *Connection, cause error) {
	if _, ok := r.conns[c.token]; !ok {
		return
	}
	delete(r.conns, c.token)
	r.openConns.Add(-1)

	orphan, finished := c.Close(cause)
	if orphan != nil {
		r.requeue(orphan)
	}
	if finished != nil {
		r.outbound = append(r.outbound, finished)
	}

	if r.metrics != nil {
		r.metrics.RecordClose(closeReason(cause))
	}
	r.dispatchIdle()
}

func closeReason(cause error) string {
	switch {
	case cause == nil, errors.Is(cause, io.EOF):
		return "eof"
	case errors.Is(cause, errors.ErrShuttingDown):
		return "shutdown"
	case errors.Is(cause, errors.ErrFrameTooLarge):
		return "frame_too_large"
	default:
		return "error"
	}
}

func (r *Reactor) recordDepth() {
	if r.metrics != nil {
		r.metrics.RecordQueueDepth(len(r.inbound))
	}
}

// shutdown runs on the reactor goroutine once stopping is closed.
func (r *Reactor) shutdown() {
	r.draining = true

	r.mu.Lock()
	r.running = false
	loopback := r.loopback
	r.loopback = nil
	r.mu.Unlock()

	if err := r.listener.Close(); err != nil {
		r.logger.Debug("Close listener", "error", err)
	}

	// Responses already computed are still delivered.
	for _, c := range r.conns {
		if c.State() == StateAwaitingCollection {
			if resp, err := c.Collect(); err == nil {
				r.outbound = append(r.outbound, resp)
			}
		}
	}
	r.flush()

drain:
	for {
		select {
		case item := <-r.submit:
			r.inbound = append(r.inbound, item)
		default:
			break drain
		}
	}

	for _, c := range r.conns {
		r.closeConnection(c, errors.ErrShuttingDown)
	}
	r.flush()

	err := errors.WrapTransient(errors.ErrShuttingDown, "Reactor", "Stop", "drain inbound queue")
	body := translate.RenderError(err)
	for _, item := range r.inbound {
		item.future.resolve(body, err)
	}
	if r.metrics != nil {
		r.metrics.RecordShutdownDiscard(len(r.inbound))
	}
	if len(r.inbound) > 0 {
		r.logger.Info("Discarded queued work", "count", len(r.inbound))
	}
	r.inbound = nil
	r.queued.Store(0)
	r.recordDepth()

	for _, conn := range loopback {
		conn.Close()
	}
	r.logger.Info("Reactor stopped")
}
