package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/changefeed"
)

const (
	sseKeepAlive = 25 * time.Second
	wsReadWait   = 90 * time.Second
	wsPingEvery  = 30 * time.Second
	wsWriteWait  = 10 * time.Second
	wsReadLimit  = int64(4 << 10)
)

// subscribe checks the conversation exists and opens a feed subscription.
func (s *Server) subscribe(c echo.Context) (<-chan changefeed.Event, func(), error) {
	id := c.Param("id")
	if _, err := s.deps.Chat.Conversation(c.Request().Context(), id); err != nil {
		return nil, nil, err
	}
	if s.deps.Feed == nil {
		return nil, nil, echo.NewHTTPError(http.StatusNotImplemented, "changefeed disabled")
	}
	return s.deps.Feed.Subscribe(c.Request().Context(), id)
}

// streamEvents serves the conversation changefeed as Server-Sent Events.
func (s *Server) streamEvents(c echo.Context) error {
	events, cancel, err := s.subscribe(c)
	if err != nil {
		return err
	}
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			b, err := json.Marshal(e)
			if err != nil {
				log.Warn().Err(err).Msg("event not encodable")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, b); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// wsCommand is a client frame on the WebSocket.
type wsCommand struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id,omitempty"`
	Typing        bool   `json:"typing,omitempty"`
}

type wsReply struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// websocketEvents streams the changefeed over a WebSocket. Clients may send
// {"type":"ping"} heartbeats and {"type":"typing"} updates.
func (s *Server) websocketEvents(c echo.Context) error {
	events, cancel, err := s.subscribe(c)
	if err != nil {
		return err
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", c.Param("id")).Msg("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	replies := make(chan wsReply, 8)
	done := make(chan struct{})
	go s.wsReadLoop(c, conn, replies, done)

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	for {
		var err error
		select {
		case <-done:
			return nil
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
		case r := <-replies:
			err = writeJSON(conn, r)
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"), time.Now().Add(wsWriteWait))
				return nil
			}
			err = writeJSON(conn, e)
		}
		if err != nil {
			log.Debug().Err(err).Str("conversation_id", c.Param("id")).Msg("websocket write failed")
			return nil
		}
	}
}

func (s *Server) wsReadLoop(c echo.Context, conn *websocket.Conn, replies chan<- wsReply, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadWait))
	})

	id := c.Param("id")
	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conversation_id", id).Msg("websocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))

		var reply wsReply
		switch cmd.Type {
		case "ping":
			reply = wsReply{Type: "pong"}
		case "typing":
			reply = wsReply{Type: "typing.ack"}
			if _, err := s.deps.Chat.SetTyping(c.Request().Context(), id, cmd.ParticipantID, cmd.Typing); err != nil {
				reply.Error = err.Error()
			}
		default:
			reply = wsReply{Type: "error", Error: "unknown command " + cmd.Type}
		}
		select {
		case replies <- reply:
		default:
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

// checkOrigin allows same-origin requests, any origin when none are
// configured, and otherwise only the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.deps.AllowOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	for _, allowed := range s.deps.AllowOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
