package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/C0NZZ/better-teletask/crawler/scheduler"
)

const maxWSConnections = 100

var upgrader = websocket.Upgrader{
	// The control plane is reachable from the dashboard's origin only
	// through the reverse proxy; origin checks happen there.
	CheckOrigin: func(*http.Request) bool { return true },
}

// QueueHub pushes queue snapshots to connected WebSocket clients on a
// fixed cadence. A single broadcaster serves every client so N dashboards
// do not mean N snapshot tickers.
type QueueHub struct {
	sched *scheduler.Scheduler
	log   *zap.SugaredLogger

	mu         sync.Mutex
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewQueueHub creates the hub.
func NewQueueHub(sched *scheduler.Scheduler, log *zap.SugaredLogger) *QueueHub {
	return &QueueHub{
		sched:      sched,
		log:        log,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn, maxWSConnections),
	}
}

// Run is the hub's main loop; it owns the client set.
func (h *QueueHub) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				h.log.Warnw("websocket rejected: connection cap reached", "cap", maxWSConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("websocket client connected", "total", total)
		case conn := <-h.unregister:
			h.drop(conn)
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *QueueHub) broadcast() {
	snapshot := h.sched.Snapshot()

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snapshot); err != nil {
			h.drop(conn)
		}
	}
}

func (h *QueueHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

func (h *QueueHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// ServeHTTP upgrades a request and hands the connection to the hub. A
// per-connection reader drains control frames and detects the close.
func (h *QueueHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister <- conn
				return
			}
		}
	}()
}
