package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Event is the JSON message pushed to websocket clients.
type Event struct {
	Type  string `json:"type"`
	Stage string `json:"stage"`
	Event string `json:"event"`
	Total int    `json:"total"`
	Done  int    `json:"done"`
}

// Hub broadcasts progress events to every connected websocket client.
// New clients receive the most recent event first.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]*sync.Mutex
	last     *Event
	unnamed  *hubSink
}

func NewHub() *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
	h.unnamed = &hubSink{hub: h}
	return h
}

// Serve listens on addr until ctx is cancelled. /ws upgrades to the event
// stream and /healthz answers "ok".
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logrus.WithFields(logrus.Fields{"addr": addr}).Info("Progress feed listening")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ServeHTTP upgrades the request and keeps the connection until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	last := h.last
	h.mu.Unlock()

	if last != nil {
		_ = writeJSON(conn, writeMu, last)
	}

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer h.removeClient(conn)
		// Clients only listen; reading drives pong and close handling.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish sends ev to every client. Clients that cannot be written to are dropped.
func (h *Hub) Publish(ev Event) {
	ev.Type = "progress"
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	var stale []*websocket.Conn
	h.mu.Lock()
	h.last = &ev
	for conn, writeMu := range h.clients {
		if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	h.mu.Unlock()
	for _, conn := range stale {
		h.removeClient(conn)
	}
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Named returns a sink that publishes events for stage.
func (h *Hub) Named(stage string) Sink {
	return &hubSink{hub: h, stage: stage}
}

func (h *Hub) Init(total int)   { h.unnamed.Init(total) }
func (h *Hub) Advance(step int) { h.unnamed.Advance(step) }
func (h *Hub) Reset()           { h.unnamed.Reset() }

type hubSink struct {
	hub   *Hub
	stage string
	total int
	done  int
}

func (s *hubSink) Init(total int) {
	s.total, s.done = total, 0
	s.hub.Publish(Event{Stage: s.stage, Event: "init", Total: s.total})
}

func (s *hubSink) Advance(step int) {
	s.done += step
	s.hub.Publish(Event{Stage: s.stage, Event: "advance", Total: s.total, Done: s.done})
}

func (s *hubSink) Reset() {
	s.total, s.done = 0, 0
	s.hub.Publish(Event{Stage: s.stage, Event: "reset"})
}

func writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
