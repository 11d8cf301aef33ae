package events

import (
	"time"

	"PTracker/tools/ids"

	"github.com/gorilla/websocket"
)

// Client is one websocket subscriber. Writes happen only on the writer
// goroutine; Send is its queue.
type Client struct {
	ConnID string
	WS     *websocket.Conn
	Send   chan []byte

	closed chan struct{}
}

func newClient(ws *websocket.Conn, sendQueueSize int) *Client {
	return &Client{
		ConnID: ids.GenerateString(),
		WS:     ws,
		Send:   make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
	}
}

// offer queues b without blocking; false means the client is too slow.
func (c *Client) offer(b []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.Send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) writeLoop(pingEvery, writeWait time.Duration) error {
	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case <-c.closed:
			_ = c.WS.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		case b := <-c.Send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
		case <-t.C:
			if err := c.WS.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}
