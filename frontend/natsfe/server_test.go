package natsfe

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/gateway"
	"github.com/c360/gqlpool/metric"
	"github.com/c360/gqlpool/natsclient"
	"github.com/c360/gqlpool/pool"
	"github.com/c360/gqlpool/testutil"
	"github.com/c360/gqlpool/translate"
	"github.com/c360/gqlpool/wire"
)

type gatewayFunc func(op wire.Op, text string) *pool.Future

func (f gatewayFunc) Do(op wire.Op, text string) *pool.Future { return f(op, text) }

func sendRequest(t *testing.T, nc *testutil.MockNATSClient, op wire.Op, body string) natsclient.Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := nc.Request(ctx, Subject("gqlpool", op), []byte(body))
	require.NoError(t, err)
	return reply
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "gqlpool.get", Subject("gqlpool", wire.OpGet))
	assert.Equal(t, "edge.gqlpool.delete", Subject("edge.gqlpool", wire.OpDelete))
}

func TestNew_Validation(t *testing.T) {
	gw := gatewayFunc(func(wire.Op, string) *pool.Future { return pool.Resolved("", nil) })
	nc := testutil.NewMockNATSClient()

	_, err := New(DefaultConfig(), Deps{Subscriber: nc})
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))

	cfg := DefaultConfig()
	cfg.SubjectPrefix = ""
	_, err = New(cfg, Deps{Gateway: gw, Subscriber: nc})
	assert.True(t, errors.IsInvalid(err))

	cfg = DefaultConfig()
	cfg.Workers = 0
	_, err = New(cfg, Deps{Gateway: gw, Subscriber: nc})
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestServer_AgainstGateway(t *testing.T) {
	h := testutil.StarWars(t)
	gcfg := gateway.DefaultConfig()
	gcfg.Listen = "127.0.0.1:0"
	gcfg.LoopbackConnections = 2
	gw, err := gateway.New(gcfg, gateway.Deps{Schema: h, Store: testutil.NewSQLiteStore(t, h)})
	require.NoError(t, err)
	require.NoError(t, gw.Start(context.Background()))
	t.Cleanup(func() { _ = gw.Stop(5 * time.Second) })

	nc := testutil.NewMockNATSClient()
	registry := metric.NewMetricsRegistry()
	s, err := New(DefaultConfig(), Deps{Gateway: gw, Subscriber: nc, MetricsRegistry: registry})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(5 * time.Second) })

	for _, op := range []wire.Op{wire.OpGet, wire.OpAdd, wire.OpUpdate, wire.OpDelete} {
		assert.Equal(t, 1, nc.SubscriberCount(Subject("gqlpool", op)))
	}

	reply := sendRequest(t, nc, wire.OpAdd, `{ Droid { id: 1 name: "R2-D2" age: 33 } }`)
	assert.Equal(t, StatusOK, reply.Header[StatusHeader])
	assert.JSONEq(t, `{"Droid":{"affected":1}}`, string(reply.Data))

	reply = sendRequest(t, nc, wire.OpGet, `{ Droid (id: 1) { name age } }`)
	assert.Equal(t, StatusOK, reply.Header[StatusHeader])
	assert.JSONEq(t, `{"Droid":{"name":"R2-D2","age":33}}`, string(reply.Data))

	reply = sendRequest(t, nc, wire.OpGet, `{ Droid (id: 1) { name `)
	assert.Equal(t, StatusError, reply.Header[StatusHeader])
	assert.Contains(t, string(reply.Data), "PARSE_ERROR")

	reply = sendRequest(t, nc, wire.OpDelete, `{ Droid (id: 1) }`)
	assert.Equal(t, StatusOK, reply.Header[StatusHeader])
	assert.JSONEq(t, `{"Droid":{"affected":1}}`, string(reply.Data))

	assert.Eventually(t, func() bool { return s.Stats().Processed == 4 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), s.Stats().Failed)
}

func TestServer_QueueFull(t *testing.T) {
	release := make(chan struct{})
	gw := gatewayFunc(func(op wire.Op, text string) *pool.Future {
		<-release
		return pool.Resolved(`{"Droid":[]}`, nil)
	})

	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	nc := testutil.NewMockNATSClient()
	s, err := New(cfg, Deps{Gateway: gw, Subscriber: nc})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	var wg sync.WaitGroup
	replies := make([]natsclient.Reply, 2)
	for i := range replies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i] = sendRequest(t, nc, wire.OpGet, `{ Droid }`)
		}(i)
		if i == 0 {
			require.Eventually(t, func() bool { return s.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)
		}
	}
	require.Eventually(t, func() bool { return s.Stats().QueueDepth == 1 }, time.Second, 5*time.Millisecond)

	reply := sendRequest(t, nc, wire.OpGet, `{ Droid }`)
	assert.Equal(t, StatusError, reply.Header[StatusHeader])
	assert.Contains(t, string(reply.Data), "request queue is full")

	close(release)
	wg.Wait()
	for _, r := range replies {
		assert.Equal(t, StatusOK, r.Header[StatusHeader])
	}
	require.NoError(t, s.Stop(time.Second))
}

func TestServer_Shutdown(t *testing.T) {
	gw := gatewayFunc(func(op wire.Op, text string) *pool.Future {
		return pool.Resolved(`{"Droid":[]}`, nil)
	})
	nc := testutil.NewMockNATSClient()
	s, err := New(DefaultConfig(), Deps{Gateway: gw, Subscriber: nc})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	err = s.Start(context.Background())
	assert.True(t, errors.Is(err, errors.ErrAlreadyStarted))

	reply := sendRequest(t, nc, wire.OpGet, `{ Droid }`)
	assert.Equal(t, StatusOK, reply.Header[StatusHeader])

	require.NoError(t, s.Stop(time.Second))
	assert.NoError(t, s.Stop(time.Second))

	reply = sendRequest(t, nc, wire.OpGet, `{ Droid }`)
	assert.Equal(t, StatusError, reply.Header[StatusHeader])
	assert.Contains(t, string(reply.Data), "SHUTTING_DOWN")
}

func TestServer_DiscardAnswersQueuedRequests(t *testing.T) {
	s := &Server{logger: slog.Default()}
	var got natsclient.Reply
	s.discard(&request{op: wire.OpAdd, respond: func(r natsclient.Reply) error {
		got = r
		return nil
	}})
	assert.Equal(t, StatusError, got.Header[StatusHeader])
	assert.Equal(t, translate.RenderError(errors.WrapTransient(errors.ErrShuttingDown, "Server", "discard", "drain queue")), string(got.Data))
}

func TestServer_SubscribeFailure(t *testing.T) {
	gw := gatewayFunc(func(op wire.Op, text string) *pool.Future { return pool.Resolved("", nil) })
	nc := testutil.NewMockNATSClient()
	require.NoError(t, nc.Close(context.Background()))

	s, err := New(DefaultConfig(), Deps{Gateway: gw, Subscriber: nc})
	require.NoError(t, err)
	err = s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
