package events

import (
	"net"
	"net/http"
	"sync"
	"time"

	"PTracker/tools/ids"
	"PTracker/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame types.
const (
	TypeState    = "state"
	TypeLocation = "location"
	TypeFriends  = "friends"
	TypeTracking = "tracking"
	TypeOffline  = "offline"
	TypeError    = "error"
)

// Frame is one message on the event stream.
type Frame struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	At   string `json:"at"`
	Data any    `json:"data,omitempty"`
}

type HubConf struct {
	SendQueue int           // per-client buffered frames
	PingEvery time.Duration // keepalive
	WriteWait time.Duration
	ReadLimit int64
}

func (c *HubConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	if c.PingEvery <= 0 {
		c.PingEvery = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 4096
	}
}

// Hub fans event frames out to every connected websocket client. A client
// that cannot keep up is disconnected rather than slowing the others.
type Hub struct {
	conf     HubConf
	log      *zap.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	// greet builds the first frame a new client receives.
	greet func() (string, any)

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

type Option func(*Hub)

func WithGreeting(fn func() (typ string, data any)) Option { return func(h *Hub) { h.greet = fn } }

// WithCheckOrigin overrides the upgrade origin check; the HTTP layer
// already filters origins.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func NewHub(conf HubConf, log *zap.Logger, opts ...Option) *Hub {
	conf.norm()
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		conf:     conf,
		log:      log,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		now:      time.Now,
		clients:  make(map[string]*Client),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Hub) encode(typ string, data any) ([]byte, error) {
	return json.Marshal(Frame{
		ID:   ids.MessageID(),
		Type: typ,
		At:   h.now().UTC().Format(time.RFC3339Nano),
		Data: data,
	})
}

// Publish sends one frame to every client. It never blocks.
func (h *Hub) Publish(typ string, data any) {
	b, err := h.encode(typ, data)
	if err != nil {
		h.log.Error("encode frame", zap.String("type", typ), zap.Error(err))
		return
	}
	h.mu.RLock()
	var slow []*Client
	for _, c := range h.clients {
		if !c.offer(b) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Warn("dropping slow client", zap.String("conn", c.ConnID))
		h.remove(c)
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.ConnID] = c
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ConnID]; ok {
		delete(h.clients, c.ConnID)
		close(c.closed)
	}
	h.mu.Unlock()
}

// Close disconnects every client; later upgrades are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	cs := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		cs = append(cs, c)
	}
	h.mu.Unlock()
	for _, c := range cs {
		h.remove(c)
	}
}

// HandleWS upgrades the request and streams frames until either side closes.
func (h *Hub) HandleWS(c *gin.Context) {
	h.Serve(c.Writer, c.Request)
}

func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		h.log.Info("upgrade websocket", zap.Error(err))
		return
	}
	defer ws.Close()

	cl := newClient(ws, h.conf.SendQueue)
	if !h.add(cl) {
		return
	}
	// the greeting is built after registration, so no frame published in
	// between is lost; it may follow frames it already reflects.
	if h.greet != nil {
		typ, data := h.greet()
		if b, err := h.encode(typ, data); err == nil {
			cl.offer(b)
		}
	}
	h.log.Debug("client connected", zap.String("conn", cl.ConnID), zap.String("remote", r.RemoteAddr))

	writerDone := make(chan struct{})
	safe.Go(h.log, "events.writer", func() {
		defer close(writerDone)
		if err := cl.writeLoop(h.conf.PingEvery, h.conf.WriteWait); err != nil {
			h.log.Debug("write", zap.String("conn", cl.ConnID), zap.Error(err))
		}
		h.remove(cl)
		_ = ws.Close()
	})

	h.readLoop(cl)
	h.remove(cl)
	<-writerDone
	h.log.Debug("client gone", zap.String("conn", cl.ConnID))
}

// readLoop only drains control frames and notices the peer leaving. Clients
// send commands over HTTP.
func (h *Hub) readLoop(cl *Client) {
	ws := cl.WS
	ws.SetReadLimit(h.conf.ReadLimit)
	deadline := func() time.Time { return time.Now().Add(2 * h.conf.PingEvery) }
	_ = ws.SetReadDeadline(deadline())
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(deadline()) })
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				h.log.Debug("peer closed", zap.String("conn", cl.ConnID))
			default:
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					h.log.Info("read timeout", zap.String("conn", cl.ConnID))
				} else {
					h.log.Debug("read", zap.String("conn", cl.ConnID), zap.Error(err))
				}
			}
			return
		}
		_ = ws.SetReadDeadline(deadline())
	}
}
