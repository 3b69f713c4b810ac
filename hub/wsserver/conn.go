package wsserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/utils/log"
)

// conn is one hub connection with a dedicated write pump.
type conn struct {
	server    *Server
	ws        *websocket.Conn
	user      *core.User
	sessionID string

	send    chan []byte
	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(s *Server, ws *websocket.Conn, user *core.User, sessionID string) *conn {
	return &conn{
		server:    s,
		ws:        ws,
		user:      user,
		sessionID: sessionID,
		send:      make(chan []byte, s.config.OutboundBuffer),
		limiter:   rate.NewLimiter(rate.Limit(s.config.InboundRate), s.config.InboundBurst),
		done:      make(chan struct{}),
	}
}

// sendJSON queues a message. Slow consumers drop messages rather than stall
// the hub.
func (c *conn) sendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Marshal outbound message: %s", err)
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
	default:
		c.server.stats.Counter("dropped_messages").Inc(1)
	}
}

func (c *conn) sendError(message string) {
	c.sendJSON(map[string]string{"type": "error", "message": message})
}

// close sends a close frame and tears the connection down.
func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.server.config.WriteTimeout)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		close(c.done)
		c.ws.Close()
		c.server.remove(c)
	})
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *conn) readPump() {
	defer c.close(websocket.CloseNormalClosure, "")
	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			c.server.stats.Counter("rate_limited").Inc(1)
			c.sendError("Too many requests")
			continue
		}
		c.server.dispatch(c, b)
	}
}
