// Package ws carries the device location stream: clients push fixes over a
// WebSocket and receive presence snapshots back. A live connection keeps the
// user marked online.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/TotoB12/loco/cache"
	"github.com/TotoB12/loco/config"
	mw "github.com/TotoB12/loco/middleware"
	"github.com/TotoB12/loco/presence"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	cache    cache.Cache
	store    *presence.Store
	sec      config.SecurityConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which origins are accepted; an empty slice
// permits all origins (development only).
func NewHandler(c cache.Cache, store *presence.Store, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	h := &Handler{cache: c, store: store, sec: sec, logger: logger}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

type fixMessage struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"` // unix ms, optional
}

type resultMessage struct {
	Type string `json:"type"` // "result"
	presence.Result
}

type snapshotMessage struct {
	Type  string            `json:"type"` // "snapshot"
	Users presence.Snapshot `json:"users"`
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.cache.Exists(ctx, "session:"+tokenStr)
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(claims.UserID, conn)
	_ = h.store.SetOnline(c.Request.Context(), sess.userID)

	done := make(chan struct{})
	go h.writePump(sess, done)
	h.readPump(sess, done)
}

// readPump consumes location fixes until the connection closes.
func (h *Handler) readPump(s *session, done chan struct{}) {
	defer func() {
		close(done)
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.store.SetOffline(bg, s.userID)
		_ = s.conn.Close()
	}()

	_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var fix fixMessage
		if err := s.conn.ReadJSON(&fix); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.String("user_id", s.userID),
					zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		res, err := h.store.PublishSelf(ctx, s.userID, presence.Update{
			Latitude:  &fix.Latitude,
			Longitude: &fix.Longitude,
			Timestamp: fix.Timestamp,
		})
		if err == nil {
			_ = h.store.SetOnline(ctx, s.userID)
		} else {
			h.logger.Warn("ws fix rejected",
				zap.String("user_id", s.userID),
				zap.Error(err))
		}
		cancel()

		if err := s.writeJSON(resultMessage{Type: "result", Result: res}); err != nil {
			return
		}
	}
}

// writePump forwards presence snapshots and pings until done closes.
func (h *Handler) writePump(s *session, done chan struct{}) {
	snapshots, unsub := h.store.Subscribe()
	defer unsub()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := s.writeJSON(snapshotMessage{Type: "snapshot", Users: snap}); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.writeControl(websocket.PingMessage); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// session wraps one connection; the mutex serializes writes from the read
// and write pumps.
type session struct {
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func newSession(userID string, conn *websocket.Conn) *session {
	return &session{userID: userID, conn: conn}
}

func (s *session) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *session) writeControl(messageType int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(messageType, nil, time.Now().Add(writeTimeout))
}
