package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/wire"
)

// Token identifies a registered connection within one Reactor. Tokens are
// never reused; ListenerToken is reserved for the listening socket.
type Token uint64

// ListenerToken is the token of the listening socket.
const ListenerToken Token = 0

// WorkItem is one unit of request work. Items submitted through the Gateway
// API carry no origin; items decoded from a socket carry the token of the
// connection that sent them, and their response is written back there.
type WorkItem struct {
	ID     uuid.UUID
	Op     wire.Op
	Body   string
	Origin Token

	future   *Future
	enqueued time.Time
}

// NewWorkItem creates an item with a fresh ID and an unresolved future.
func NewWorkItem(op wire.Op, body string) *WorkItem {
	return &WorkItem{
		ID:     uuid.New(),
		Op:     op,
		Body:   body,
		future: newFuture(),
	}
}

// Future returns the item's completion handle.
func (w *WorkItem) Future() *Future {
	return w.future
}

// Response is the outcome of processing a WorkItem. Body holds the result
// text, or the rendered error payload when Err is set.
type Response struct {
	Item *WorkItem
	Body string
	Err  error
}

// Status maps the response onto a wire status.
func (r *Response) Status() wire.Status {
	if r.Err != nil {
		return wire.StatusError
	}
	return wire.StatusOK
}

// Future is a single-resolution handle to a WorkItem's result.
type Future struct {
	once sync.Once
	done chan struct{}
	body string
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that has already completed with body and err.
func Resolved(body string, err error) *Future {
	f := newFuture()
	f.resolve(body, err)
	return f
}

// resolve completes the future. Only the first call has any effect.
func (f *Future) resolve(body string, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.body = body
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done. On a request error
// the returned text is the rendered error payload and err carries the cause.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.body, f.err
	case <-ctx.Done():
		return "", errors.WrapTransient(ctx.Err(), "Future", "Wait", "wait for response")
	}
}
