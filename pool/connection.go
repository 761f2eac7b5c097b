package pool

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/translate"
	"github.com/c360/gqlpool/wire"
)

// State is a connection's position in the request cycle.
type State int

// Connection states
const (
	StateAwaitingDispatch State = iota
	StateProcessing
	StateAwaitingCollection
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingDispatch:
		return "awaiting-dispatch"
	case StateProcessing:
		return "processing"
	case StateAwaitingCollection:
		return "awaiting-collection"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Interest is the one readiness a connection is armed for. The reactor
// disarms it on delivery and re-arms the other direction.
type Interest int

// Interests
const (
	InterestNone Interest = iota
	InterestDispatch
	InterestCollect
)

// Connection is one accepted socket acting as a worker slot. It holds at
// most one WorkItem at a time. Its state is owned by the reactor goroutine;
// the read and write loops only exchange events and frames with it.
type Connection struct {
	token   Token
	conn    net.Conn
	handler Handler
	logger  *slog.Logger

	state    State
	item     *WorkItem
	response *Response

	interest Interest
	writable bool
	idle     bool

	out chan wire.Response
}

func newConnection(token Token, conn net.Conn, handler Handler, outbound int, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		token:    token,
		conn:     conn,
		handler:  handler,
		logger:   logger.With("token", uint64(token)),
		state:    StateAwaitingDispatch,
		interest: InterestDispatch,
		out:      make(chan wire.Response, outbound),
	}
}

// Token returns the connection's token.
func (c *Connection) Token() Token {
	return c.token
}

// State returns the current state.
func (c *Connection) State() State {
	return c.state
}

// Assign hands item to the connection. It fails with ErrBusy unless the
// connection is awaiting dispatch.
func (c *Connection) Assign(item *WorkItem) error {
	switch c.state {
	case StateAwaitingDispatch:
	case StateClosed:
		return errors.WrapTransient(errors.ErrConnectionClosed, "Connection", "Assign", "assign work item")
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: connection %d is %s", errors.ErrBusy, c.token, c.state),
			"Connection", "Assign", "assign work item")
	}

	c.item = item
	c.state = StateProcessing
	return nil
}

// Process runs the assigned item through the handler and buffers the
// response. A handler error becomes an error response; it never fails the
// connection.
func (c *Connection) Process(ctx context.Context) error {
	if c.state != StateProcessing {
		return errors.WrapFatal(fmt.Errorf("%w: process on %s connection %d", errors.ErrPool, c.state, c.token),
			"Connection", "Process", "check state")
	}

	item := c.item
	body, err := c.handle(ctx, item)
	if err != nil {
		c.logger.Debug("Request failed", "id", item.ID, "op", item.Op, "error", err)
		body = translate.RenderError(err)
	}

	c.item = nil
	c.response = &Response{Item: item, Body: body, Err: err}
	c.state = StateAwaitingCollection
	return nil
}

func (c *Connection) handle(ctx context.Context, item *WorkItem) (body string, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panicked", "id", item.ID, "panic", r)
			err = errors.WrapFatal(fmt.Errorf("%w: handler panic: %v", errors.ErrPool, r),
				"Connection", "Process", "handle request")
		}
	}()
	return c.handler.Handle(ctx, item.Op, item.Body)
}

// Collect takes the buffered response and returns the connection to
// StateAwaitingDispatch.
func (c *Connection) Collect() (*Response, error) {
	if c.state != StateAwaitingCollection {
		return nil, errors.WrapFatal(fmt.Errorf("%w: collect on %s connection %d", errors.ErrPool, c.state, c.token),
			"Connection", "Collect", "check state")
	}

	resp := c.response
	c.response = nil
	c.state = StateAwaitingDispatch
	return resp, nil
}

// Close releases the socket and moves the connection to StateClosed. It
// returns the item it was holding but had not processed, and the response
// it had computed but that was not yet collected, so neither is lost.
func (c *Connection) Close(cause error) (*WorkItem, *Response) {
	if c.state == StateClosed {
		return nil, nil
	}

	orphan, finished := c.item, c.response
	c.item, c.response = nil, nil
	c.state = StateClosed
	c.interest = InterestNone
	close(c.out)

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("Close socket", "error", err)
		}
	}
	c.logger.Debug("Connection closed", "cause", cause)
	return orphan, finished
}

// send queues a response frame for the write loop without blocking. It
// reports false when the connection's output buffer is full.
func (c *Connection) send(resp wire.Response) bool {
	if c.state == StateClosed {
		return false
	}
	select {
	case c.out <- resp:
		c.writable = false
		return true
	default:
		return false
	}
}

// readLoop decodes request frames and posts them to the reactor until the
// socket fails.
func (c *Connection) readLoop(post func(event) bool) {
	rd := bufio.NewReader(c.conn)
	for {
		req, err := wire.ReadRequest(rd)
		switch {
		case err == nil:
			if !post(event{kind: evRequest, token: c.token, req: req}) {
				return
			}
		case errors.Is(err, errors.ErrInvalidData):
			// The frame was consumed whole; answer it and keep reading.
			if !post(event{kind: evRequest, token: c.token, err: err}) {
				return
			}
		default:
			post(event{kind: evClosed, token: c.token, err: err})
			return
		}
	}
}

// writeLoop writes queued response frames and reports output readiness
// once at start and after every write.
func (c *Connection) writeLoop(post func(event) bool) {
	if !post(event{kind: evWritable, token: c.token}) {
		return
	}
	for resp := range c.out {
		if err := wire.WriteResponse(c.conn, resp); err != nil {
			post(event{kind: evClosed, token: c.token, err: err})
			return
		}
		if !post(event{kind: evWritable, token: c.token}) {
			return
		}
	}
}
