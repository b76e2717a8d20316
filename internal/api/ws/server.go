// Package ws serves session snapshots over websockets.
package ws

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64

	// TokenHeader carries the player token. The "token" query parameter is
	// accepted too since browsers cannot set headers on websocket requests.
	TokenHeader = "X-Player-Token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server serves /health and /ws.
type Server struct {
	session *session.Manager
	token   string
}

// NewServer creates a new Server. An empty token disables the check on /ws.
func NewServer(session *session.Manager, token string) *Server {
	return &Server{
		session: session,
		token:   token,
	}
}

// Router creates a chi.Router with the websocket routes.
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	s.Mount(r)
	return r
}

// Mount registers the routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"session_id": s.session.ID(),
		"state":      s.session.Playback().Snapshot().State,
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	got := r.Header.Get(TokenHeader)
	if got == "" {
		got = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "invalid or missing player token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("ws: upgrade failed: %v", err)
		return
	}

	notifManager := s.session.GetNotificationManager()
	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	snapshot := s.session.Snapshot()
	snapshot.SequenceNo = notifManager.NextSequenceNo()
	_ = client.Send(snapshot)

	subscriptionID := notifManager.Subscribe(client)
	zlog.Debug().Msgf("ws: client connected: subscription_id=%s remote=%s", subscriptionID, r.RemoteAddr)

	go client.writePump()
	go func() {
		client.readPump()
		notifManager.Unsubscribe(subscriptionID)
		zlog.Debug().Msgf("ws: client disconnected: subscription_id=%s", subscriptionID)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Client is one websocket subscriber. It implements notification.Stream.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Send queues n for the write pump. Notifications are dropped while the
// client's buffer is full.
func (c *Client) Send(n *notification.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- b:
	default:
		zlog.Debug().Msgf("ws: send buffer full, dropping notification: seq=%d", n.SequenceNo)
	}
	return nil
}

// readPump discards inbound messages and returns when the peer goes away.
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
