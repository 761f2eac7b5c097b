// Package client speaks the gqlpool socket protocol.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/pkg/retry"
	"github.com/c360/gqlpool/wire"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetry sets the backoff used while dialling.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithDialTimeout bounds each dial attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

// Client is one socket to a gateway. Requests on a client are serialized:
// the gateway answers a socket's frames in order.
type Client struct {
	addr        string
	retry       retry.Config
	dialTimeout time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
}

// Dial connects to the gateway at addr, retrying with backoff until the
// attempts are exhausted or ctx is done.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c := &Client{
		addr:        addr,
		retry:       retry.Dial(),
		dialTimeout: 2 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client", "address", addr)

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := retry.DoWithResult(ctx, c.retry, func() (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", addr)
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.Join(errors.ErrConnection, err), "Client", "Dial", fmt.Sprintf("dial %s", addr))
	}

	c.conn = conn
	c.rd = bufio.NewReader(conn)
	c.logger.Debug("Connected")
	return c, nil
}

// Get runs a query.
func (c *Client) Get(ctx context.Context, query string) (string, error) {
	return c.Do(ctx, wire.OpGet, query)
}

// Add runs an insert mutation.
func (c *Client) Add(ctx context.Context, mutation string) (string, error) {
	return c.Do(ctx, wire.OpAdd, mutation)
}

// Update runs an update mutation.
func (c *Client) Update(ctx context.Context, mutation string) (string, error) {
	return c.Do(ctx, wire.OpUpdate, mutation)
}

// Delete runs a delete mutation.
func (c *Client) Delete(ctx context.Context, mutation string) (string, error) {
	return c.Do(ctx, wire.OpDelete, mutation)
}

// Do sends one request and waits for its response. An error response is
// returned as its body together with a *ResponseError. A transport failure
// closes the client.
func (c *Client) Do(ctx context.Context, op wire.Op, body string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return "", errors.WrapTransient(errors.ErrConnectionClosed, "Client", "Do", "check connection")
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", c.fail(err, "set deadline")
	}

	// Unblock the read when ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := wire.WriteRequest(c.conn, wire.Request{Op: op, Body: body}); err != nil {
		if errors.Is(err, errors.ErrInvalidData) || errors.Is(err, errors.ErrFrameTooLarge) {
			return "", errors.WrapInvalid(err, "Client", "Do", "encode request")
		}
		return "", c.fail(err, "write request")
	}

	resp, err := wire.ReadResponse(c.rd)
	if err != nil {
		if ctx.Err() != nil {
			err = errors.Join(ctx.Err(), err)
		}
		return "", c.fail(err, "read response")
	}

	if resp.Status == wire.StatusError {
		return resp.Body, parseError(resp.Body)
	}
	return resp.Body, nil
}

func (c *Client) fail(err error, action string) error {
	_ = c.conn.Close()
	c.conn = nil
	c.logger.Warn("Connection dropped", "action", action, "error", err)
	return errors.WrapTransient(errors.Join(errors.ErrConnection, err), "Client", "Do", action)
}

// Close closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ResponseError is an error payload returned by the gateway.
type ResponseError struct {
	Errors gqlerror.List
	Body   string
}

func (e *ResponseError) Error() string {
	if len(e.Errors) == 0 {
		return "gateway error: " + e.Body
	}
	return e.Errors.Error()
}

// Code returns the first error's code, or "" when none is set.
func (e *ResponseError) Code() string {
	if len(e.Errors) == 0 {
		return ""
	}
	code, _ := e.Errors[0].Extensions["code"].(string)
	return code
}

func parseError(body string) error {
	var payload struct {
		Errors gqlerror.List `json:"errors"`
	}
	_ = json.Unmarshal([]byte(body), &payload)
	return &ResponseError{Errors: payload.Errors, Body: body}
}
