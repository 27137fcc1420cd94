package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emberlab/devgate/internal/config"
	"github.com/emberlab/devgate/pkg/sdk"
)

const (
	typeRequest      = "request"
	typeResponse     = "response"
	typeShell        = "shell"
	typeError        = "error"
	typeStateChanged = sdk.KindStateChanged
)

type inbound struct {
	Type    string          `json:"type"`
	Seq     int64           `json:"seq,omitempty"`
	Name    string          `json:"name,omitempty"`
	Command string          `json:"command,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type outbound struct {
	Type  string     `json:"type"`
	Seq   int64      `json:"seq,omitempty"`
	Name  string     `json:"name,omitempty"`
	Data  any        `json:"data,omitempty"`
	Error *wireError `json:"error,omitempty"`
	TS    time.Time  `json:"ts,omitzero"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checking is handled by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and runs its read pump on the
// handler goroutine.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	ws := s.cfg.Load().WebSocket
	c := &client{id: uuid.NewString(), send: make(chan []byte, max(ws.SendBuffer, 1))}
	s.hub.register(c)

	go s.writePump(conn, c, ws)
	s.readPump(conn, c, ws)
}

func (s *Server) readPump(conn *websocket.Conn, c *client, ws config.WebSocket) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer func() {
		cancel()
		s.hub.unregister(c)
		_ = conn.Close()
	}()
	log := s.log.With(zap.String("conn", c.id))

	wait := ws.PingInterval + ws.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		mt, rd, err := conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read error", zap.Error(err))
			} else {
				log.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		if mt != websocket.TextMessage {
			log.Debug("ignoring non-text frame", zap.Int("type", mt))
			continue
		}
		s.deps.Metrics.Message("in")

		payload, err := readFrame(rd, ws.MaxMessageSize)
		if err != nil {
			log.Warn("frame rejected", zap.String("code", sdk.ErrorCode(err)), zap.Error(err))
			s.reply(c, inbound{}, nil, err)
			continue
		}
		s.handleFrame(ctx, c, payload)
	}
}

// readFrame copies one frame into a fresh buffer of at most limit bytes.
// The unread rest of an oversize frame is discarded by the next
// NextReader call.
func readFrame(r io.Reader, limit int) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, sdk.NewIOError("read frame", err)
	}
	if len(buf) > limit {
		return nil, fmt.Errorf("%w: frame exceeds %d bytes", sdk.ErrAllocation, limit)
	}
	return buf, nil
}

func (s *Server) writePump(conn *websocket.Conn, c *client, ws config.WebSocket) {
	ticker := time.NewTicker(ws.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(ws.PongTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debug("ws write error", zap.String("conn", c.id), zap.Error(err))
				return
			}
			s.deps.Metrics.Message("out")
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(ws.PongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, c *client, payload []byte) {
	var msg inbound
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.reply(c, msg, nil, fmt.Errorf("%w: %v", sdk.ErrInvalidArgument, err))
		return
	}
	switch msg.Type {
	case typeRequest:
		s.handleRequest(ctx, c, msg)
	case typeShell:
		var text string
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			s.reply(c, msg, nil, fmt.Errorf("%w: shell data must be a string", sdk.ErrInvalidArgument))
			return
		}
		if s.deps.Bus != nil {
			s.deps.Bus.Publish(sdk.Shell{Message: text, ConnID: c.id})
		}
	default:
		s.reply(c, msg, nil, fmt.Errorf("%w: message type %q", sdk.ErrNotFound, msg.Type))
	}
}

func (s *Server) handleRequest(ctx context.Context, c *client, msg inbound) {
	if msg.Name == "" || msg.Command == "" {
		s.reply(c, msg, nil, fmt.Errorf("%w: request needs name and command", sdk.ErrInvalidArgument))
		return
	}
	var args sdk.Document
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &args); err != nil {
			s.reply(c, msg, nil, fmt.Errorf("%w: data must be an object", sdk.ErrInvalidArgument))
			return
		}
	}
	if s.deps.Devices == nil {
		s.reply(c, msg, nil, fmt.Errorf("%w: device %q", sdk.ErrNotFound, msg.Name))
		return
	}

	req := sdk.NewRequest(msg.Name, msg.Command, args)
	req.Origin = c.id
	err := s.deps.Devices.Dispatch(ctx, req)
	s.deps.Metrics.Request(msg.Name, err)
	if err != nil {
		s.log.Debug("request failed", zap.String("device", msg.Name), zap.String("command", msg.Command), zap.Error(err))
	}
	s.reply(c, msg, req.Response(), err)
}

// reply answers msg on c. Requests get a "response" frame; anything else
// that failed gets an "error" frame.
func (s *Server) reply(c *client, msg inbound, data sdk.Document, err error) {
	out := outbound{Type: typeResponse, Seq: msg.Seq, Name: msg.Name}
	if msg.Type != typeRequest {
		out.Type = typeError
	}
	if err != nil {
		s.deps.Metrics.FrameError(err)
		out.Error = &wireError{Code: sdk.ErrorCode(err), Message: err.Error()}
	} else {
		out.Data = data
	}
	b, merr := json.Marshal(out)
	if merr != nil {
		s.log.Error("encode reply", zap.Error(merr))
		return
	}
	if serr := s.hub.Send(c.id, b); serr != nil && !errors.Is(serr, sdk.ErrNotFound) {
		s.log.Warn("reply dropped", zap.String("conn", c.id), zap.Error(serr))
	}
}
