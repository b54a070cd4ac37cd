package ws

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"sightline/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Handler upgrades /ws/{video_id} requests and subscribes them to progress events
type Handler struct {
	hub      *Broadcaster
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. allowedOrigins may contain "*".
func NewHandler(hub *Broadcaster, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP handles WebSocket upgrade requests
// Expected URL format: /ws/{video_id}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	videoID, err := strconv.ParseInt(path, 10, 64)
	if err != nil || videoID <= 0 {
		http.Error(w, "valid video_id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("[WS] Upgrade error: %v\n", err)
		return
	}

	fmt.Printf("[WS] New connection for video %d from %s\n", videoID, r.RemoteAddr)

	sub := h.hub.Subscribe(videoID, &connSink{conn: conn})
	go h.readPump(videoID, sub, conn)
}

// readPump keeps the connection alive and unsubscribes on disconnect
func (h *Handler) readPump(videoID int64, sub *Subscriber, conn *websocket.Conn) {
	defer h.hub.Unsubscribe(videoID, sub)

	conn.SetReadLimit(512) // Clients only send control frames
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-sub.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WS] Read error for video %d: %v\n", videoID, err)
			}
			return
		}
	}
}

// connSink writes events as JSON text frames
type connSink struct {
	conn *websocket.Conn
}

func (s *connSink) Send(event pipeline.ProgressEvent) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(event)
}

func (s *connSink) Close() error {
	return s.conn.Close()
}
