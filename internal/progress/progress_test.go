package progress

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder keeps every call for assertions.
type recorder struct {
	calls []string
}

func (r *recorder) Init(total int)   { r.calls = append(r.calls, "init") }
func (r *recorder) Advance(step int) { r.calls = append(r.calls, "advance") }
func (r *recorder) Reset()           { r.calls = append(r.calls, "reset") }

func TestNamed(t *testing.T) {
	assert.Equal(t, Nop{}, Named(nil, "embed"))

	r := &recorder{}
	assert.Same(t, r, Named(r, "embed"), "sinks without labels are returned as is")
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Named(Multi{a, b}, "verify")
	m.Init(2)
	m.Advance(1)
	m.Reset()

	assert.Equal(t, []string{"init", "advance", "reset"}, a.calls)
	assert.Equal(t, a.calls, b.calls)
}

func TestBar_WritesLabel(t *testing.T) {
	var buf bytes.Buffer
	s := NewBar(&buf).Named("embed")
	s.Init(3)
	s.Advance(1)
	s.Advance(2)
	assert.Contains(t, buf.String(), "Embedding watermark")

	// Advancing before Init is ignored.
	NewBar(&buf).Advance(1)
}

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHub_BroadcastsStageEvents(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	s := h.Named("embed")
	s.Init(3)
	s.Advance(1)
	s.Advance(1)
	s.Reset()

	assert.Equal(t, Event{Type: "progress", Stage: "embed", Event: "init", Total: 3}, readEvent(t, conn))
	assert.Equal(t, Event{Type: "progress", Stage: "embed", Event: "advance", Total: 3, Done: 1}, readEvent(t, conn))
	assert.Equal(t, Event{Type: "progress", Stage: "embed", Event: "advance", Total: 3, Done: 2}, readEvent(t, conn))
	assert.Equal(t, Event{Type: "progress", Stage: "embed", Event: "reset"}, readEvent(t, conn))
}

func TestHub_LateClientGetsLastEvent(t *testing.T) {
	h := NewHub()
	s := h.Named("detect")
	s.Init(10)
	s.Advance(4)

	conn := dialHub(t, h)
	assert.Equal(t, Event{Type: "progress", Stage: "detect", Event: "advance", Total: 10, Done: 4}, readEvent(t, conn))
}

func TestHub_DropsClosedClients(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		h.Advance(1)
		return h.ClientCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
