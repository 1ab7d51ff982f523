package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sitewatch/monitor/observability"
	"sitewatch/monitor/progress"
)

const maxWSConnections = 200

// ProgressHub manages websocket connections and broadcasts crawl progress.
// Single broadcaster pattern prevents N duplicate tickers.
type ProgressHub struct {
	// clients maps connection to the project id it watches
	clients    map[*websocket.Conn]string
	register   chan registration
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	tracker    *progress.Tracker
}

type registration struct {
	conn      *websocket.Conn
	projectID string
}

func NewProgressHub(tracker *progress.Tracker) *ProgressHub {
	return &ProgressHub{
		clients:    make(map[*websocket.Conn]string),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		tracker:    tracker,
	}
}

// Run starts the hub's main loop.
func (h *ProgressHub) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("websocket connection rejected: max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[reg.conn] = reg.projectID
			total := len(h.clients)
			h.mu.Unlock()
			observability.ProgressStreamClients.Set(float64(total))
			log.Printf("websocket client registered for project %s. Total: %d", reg.projectID, total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			observability.ProgressStreamClients.Set(float64(total))
			log.Printf("websocket client unregistered. Total: %d", total)

		case <-ticker.C:
			h.broadcastAll(ctx)
		}
	}
}

type progressFrame struct {
	ProjectID string             `json:"project_id"`
	Active    bool               `json:"active"`
	Progress  *progress.Snapshot `json:"progress,omitempty"`
}

// broadcastAll fetches the latest snapshot per watched project and sends it
// to that project's clients.
func (h *ProgressHub) broadcastAll(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	projects := make(map[string]bool)
	for _, id := range h.clients {
		projects[id] = true
	}

	for projectID := range projects {
		snap, err := h.tracker.Get(ctx, projectID)
		if err != nil {
			log.Printf("websocket: read progress for %s: %v", projectID, err)
			continue
		}
		frame := progressFrame{ProjectID: projectID, Active: snap != nil, Progress: snap}

		for conn, id := range h.clients {
			if id != projectID {
				continue
			}
			// Set write deadline to prevent blocking on dead connections
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				log.Printf("websocket write error: %v", err)
				go h.Unregister(conn)
			}
		}
	}
}

// shutdown gracefully closes all client connections.
func (h *ProgressHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	log.Printf("shutting down websocket hub with %d clients", len(h.clients))
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]string)
	observability.ProgressStreamClients.Set(0)
}

// Register adds a new client connection watching projectID.
func (h *ProgressHub) Register(conn *websocket.Conn, projectID string) {
	h.register <- registration{conn: conn, projectID: projectID}
}

// Unregister removes a client connection.
func (h *ProgressHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *ProgressHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
