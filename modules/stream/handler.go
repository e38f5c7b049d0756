package stream

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"labubufy-server/modules/generate"
	"labubufy-server/modules/status"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler pushes projected status payloads over a WebSocket instead of making
// the client poll. It drives the same orchestrator as the status endpoint on
// a ticker; there is no second state machine behind this transport.
type Handler struct {
	orch     *generate.Orchestrator
	interval time.Duration
}

func NewHandler(orch *generate.Orchestrator, interval time.Duration) *Handler {
	return &Handler{orch: orch, interval: interval}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/status", h.HandleStream).Methods("GET")
}

// HandleStream upgrades the connection and streams status for the session
// named in the query until it reaches a terminal state or the client leaves.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		http.Error(w, "session query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ [Stream] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("🔌 [Stream] Client connected for session %s", id)

	// Read pump: we never expect client frames, but reading is how we learn
	// the peer closed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Printf("🔌 [Stream] Client disconnected for session %s", id)
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			sess, ok := h.orch.Advance(ctx, id)
			cancel()
			if !ok {
				conn.WriteJSON(status.Payload{ID: id, Status: "failed", Error: "session not found"})
				return
			}

			payload := status.ProjectSession(sess, time.Now())
			if err := conn.WriteJSON(payload); err != nil {
				log.Printf("⚠️  [Stream] Write failed for session %s: %v", id, err)
				return
			}
			if sess.Terminal() {
				log.Printf("✅ [Stream] Session %s reached %s, closing", id, sess.Status)
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}
}
