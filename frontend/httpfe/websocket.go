package httpfe

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/gqlpool/errors"
	"github.com/c360/gqlpool/translate"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Reply is one WebSocket answer. Data holds the gateway's response text,
// which is itself JSON.
type Reply struct {
	ID     string          `json:"id,omitempty"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// wsConn serializes writes; gorilla/websocket allows one writer at a time.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, data)
}

// handleWebSocket serves a stream of requests on one socket. Requests run
// concurrently and replies carry the request's id; order is not preserved.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	s.sockets.Add(1)
	defer s.sockets.Done()

	ws := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(context.Background())
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		_ = conn.Close()
	}()

	s.mu.RLock()
	closing := s.closing
	s.mu.RUnlock()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		s.keepAlive(ctx, ws, closing)
	}()

	s.logger.Debug("WebSocket connected", "remote", r.RemoteAddr)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("WebSocket closed", "remote", r.RemoteAddr, "error", err)
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.reply(ws, Reply{Status: "error", Data: json.RawMessage(
				translate.RenderError(errors.WrapInvalid(errors.ErrInvalidData, "Server", "handleWebSocket", "decode message")))})
			continue
		}

		inflight.Add(1)
		go func(req Request) {
			defer inflight.Done()
			s.serveMessage(ctx, ws, req)
		}(req)
	}
}

func (s *Server) serveMessage(ctx context.Context, ws *wsConn, req Request) {
	op, err := parseOp(req.Op)
	if err != nil {
		err = errors.WrapInvalid(err, "Server", "serveMessage", "parse op")
		s.reply(ws, Reply{ID: req.ID, Status: "error", Data: json.RawMessage(translate.RenderError(err))})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := s.gateway.Do(op, req.Query).Wait(ctx)
	reply := Reply{ID: req.ID, Status: "ok", Data: json.RawMessage(body)}
	if err != nil {
		reply.Status = "error"
		if body == "" {
			reply.Data = json.RawMessage(translate.RenderError(err))
		}
	}
	s.reply(ws, reply)
}

func (s *Server) reply(ws *wsConn, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("Failed to encode WebSocket reply", "error", err)
		return
	}
	if err := ws.write(websocket.TextMessage, data); err != nil {
		s.logger.Debug("WebSocket write failed", "error", err)
	}
}

// keepAlive pings the peer and closes the socket when the server stops.
func (s *Server) keepAlive(ctx context.Context, ws *wsConn, closing <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closing:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = ws.write(websocket.CloseMessage, msg)
			_ = ws.conn.Close()
			return
		case <-ticker.C:
			if err := ws.write(websocket.PingMessage, nil); err != nil {
				_ = ws.conn.Close()
				return
			}
		}
	}
}
