package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"PhysioFlow/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced on the HTTP routes
		return true
	},
}

const (
	frameSubmit   = "submit"
	frameMessage  = "message"
	framePending  = "pending"
	frameFailure  = "failure"
	frameBusy     = "busy"
	frameError    = "error"
	writeDeadline = 10 * time.Second

	defaultPongWait = 60 * time.Second
)

// clientFrame is what the browser sends.
type clientFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// serverFrame mirrors a session event.
type serverFrame struct {
	Type    string `json:"type"`
	ID      int64  `json:"id,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Text    string `json:"text,omitempty"`
	Time    string `json:"time,omitempty"`
	Pending bool   `json:"pending"`
	Error   string `json:"error,omitempty"`
}

func messageFrame(m session.Message, pending bool) serverFrame {
	return serverFrame{
		Type:    frameMessage,
		ID:      m.ID,
		Sender:  string(m.Sender),
		Text:    m.Text,
		Time:    m.Clock(),
		Pending: pending,
	}
}

// chatWS hosts one conversation per connection.
//
//	-> {type: "submit", text: string}
//	<- {type: "message", id, sender, text, time, pending}
//	<- {type: "pending", pending: bool}
//	<- {type: "failure", error: string}
//	<- {type: "busy"}
//
// Closing the connection disposes the session; a reply still in flight is dropped.
func (s *Server) chatWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(f serverFrame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteJSON(f); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
		}
	}

	sess := session.New(s.upstream,
		session.WithGreeting(s.opts.Greeting),
		session.WithReplyTimeout(s.opts.ReplyTimeout),
		session.WithLogger(s.logger),
	)
	defer sess.Dispose()

	for _, m := range sess.Messages() {
		write(messageFrame(m, false))
	}
	sess.Subscribe(func(ev session.Event) {
		switch ev.Kind {
		case session.EventMessage:
			write(messageFrame(ev.Message, ev.Pending))
		case session.EventPending:
			write(serverFrame{Type: framePending, Pending: ev.Pending})
		case session.EventFailure:
			write(serverFrame{Type: frameFailure, Error: ev.Err.Error()})
		}
	})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pongWait := s.pongWait()
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.ping(conn, pongWait*9/10, stopPing)

	for {
		var in clientFrame
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "session_id", sess.ID(), "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if strings.ToLower(in.Type) != frameSubmit {
			write(serverFrame{Type: frameError, Error: "unknown frame type"})
			continue
		}

		// Accepted or rejected here, in arrival order; the reply itself
		// arrives through the subscription.
		_, err := sess.SubmitAsync(ctx, in.Text)
		switch {
		case err == nil, errors.Is(err, session.ErrEmptyInput):
		case errors.Is(err, session.ErrBusy):
			write(serverFrame{Type: frameBusy, Pending: true})
		default:
			s.logger.Warn("websocket submit failed", "session_id", sess.ID(), "error", err)
			return
		}
	}
}

// ping keeps idle connections alive until stop is closed.
func (s *Server) ping(conn *websocket.Conn, period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				s.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) pongWait() time.Duration {
	if s.opts.PongWait > 0 {
		return s.opts.PongWait
	}
	return defaultPongWait
}
