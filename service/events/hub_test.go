package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := ws.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(b, &f))
	return f
}

func TestHubGreetsThenStreams(t *testing.T) {
	h := NewHub(HubConf{}, nil, WithGreeting(func() (string, any) {
		return TypeState, map[string]bool{"offline": true}
	}))
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	defer srv.Close()

	ws := dial(t, srv)
	f := readFrame(t, ws)
	assert.Equal(t, TypeState, f.Type)
	assert.Equal(t, map[string]any{"offline": true}, f.Data)
	assert.NotEmpty(t, f.ID)

	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	h.Publish(TypeOffline, false)
	h.Publish(TypeError, "boom")

	f = readFrame(t, ws)
	assert.Equal(t, TypeOffline, f.Type)
	assert.Equal(t, false, f.Data)
	f = readFrame(t, ws)
	assert.Equal(t, TypeError, f.Type)
}

func TestHubFansOutToAllClients(t *testing.T) {
	h := NewHub(HubConf{}, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	defer srv.Close()

	a, b := dial(t, srv), dial(t, srv)
	require.Eventually(t, func() bool { return h.Clients() == 2 }, time.Second, 5*time.Millisecond)

	h.Publish(TypeLocation, map[string]float64{"latitude": 1})
	assert.Equal(t, TypeLocation, readFrame(t, a).Type)
	assert.Equal(t, TypeLocation, readFrame(t, b).Type)
}

func TestHubForgetsClosedClients(t *testing.T) {
	h := NewHub(HubConf{}, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	defer srv.Close()

	ws := dial(t, srv)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub(HubConf{}, nil)
	ws := &websocket.Conn{}
	cl := newClient(ws, 1)
	require.True(t, h.add(cl))

	h.Publish(TypeTracking, 1)
	assert.Equal(t, 1, h.Clients())
	h.Publish(TypeTracking, 2)
	assert.Equal(t, 0, h.Clients())
	select {
	case <-cl.closed:
	default:
		t.Fatal("slow client not closed")
	}
}

func TestHubCloseRefusesNewClients(t *testing.T) {
	h := NewHub(HubConf{}, nil)
	h.Close()
	assert.False(t, h.add(newClient(&websocket.Conn{}, 1)))
}
