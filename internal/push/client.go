package push

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"pysakki/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// client is one WebSocket connection. Events are queued by Emit and
// written in order by a single writer.
type client struct {
	tomb    tomb.Tomb
	id      string
	conn    *websocket.Conn
	send    chan []byte
	handler Handler
	metrics *metrics.Metrics
}

func newClient(id string, conn *websocket.Conn, queue int, h Handler, m *metrics.Metrics) *client {
	return &client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, queue),
		handler: h,
		metrics: m,
	}
}

// ID implements rooms.Subscriber.
func (c *client) ID() string {
	return c.id
}

// Emit implements rooms.Subscriber. A full queue drops the event.
func (c *client) Emit(event string, payload any) bool {
	data, err := EncodeEvent(event, payload)
	if err != nil {
		logger.Errorf("client %s: %v", c.id, err)
		return false
	}
	select {
	case <-c.tomb.Dying():
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.metrics.AddDropped()
		logger.Debugf("client %s queue full, dropping %s", c.id, event)
		return false
	}
}

func (c *client) start() {
	c.tomb.Go(c.writeLoop)
	c.tomb.Go(c.readLoop)
}

func (c *client) readLoop() error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("client %s read: %v", c.id, err)
			}
			c.tomb.Kill(nil)
			return nil
		}
		if err := dispatch(c.handler, c, frame); err != nil {
			logger.Debugf("client %s: ignoring frame: %v", c.id, err)
		}
	}
}

func (c *client) writeLoop() error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.tomb.Dying():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return nil
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return errors.Annotatef(err, "writing to client %s", c.id)
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return errors.Annotatef(err, "pinging client %s", c.id)
			}
		}
	}
}
