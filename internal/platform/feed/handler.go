package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	sendBuffer   = 256
	maxFrameSize = 4096
	sessionWait  = 5 * time.Second
)

// Handler upgrades authenticated requests to WebSocket feed connections.
// Each connection re-checks its session on every ping and closes once the
// session has been logged out, deleted or has gone idle.
type Handler struct {
	hub        *Hub
	sessions   auth.SessionStore
	upgrader   gorillawebsocket.Upgrader
	pingPeriod time.Duration
	now        func() time.Time
}

// NewHandler creates a handler for hub. origins lists the allowed Origin
// headers; an empty list allows any origin.
func NewHandler(hub *Hub, sessions auth.SessionStore, origins []string) *Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		hub:        hub,
		sessions:   sessions,
		pingPeriod: pingPeriod,
		now:        time.Now,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// RegisterRoutes mounts GET /ws on an authenticated group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/ws", h.Connect, auth.Require(auth.ActionPatientRead))
}

// Connect upgrades the connection and starts the read and write pumps.
func (h *Handler) Connect(c echo.Context) error {
	sess := auth.SessionFromContext(c.Request().Context())
	if sess == nil {
		return apperr.Unauthenticated("no session")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.New().String(), sess.UserID.String(), sendBuffer)
	h.hub.Register(client)

	go h.writePump(client, sess.ID, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		reply := h.hub.ProcessMessage(client, msg)
		if reply == nil {
			continue
		}
		data, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		h.hub.Send(client, data)
	}
}

// sessionLive reports whether the connection's session still exists. Store
// failures keep the connection open; the next ping checks again.
func (h *Handler) sessionLive(sessionID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), sessionWait)
	defer cancel()
	_, err := h.sessions.Lookup(ctx, sessionID, h.now())
	return !errors.Is(err, auth.ErrSessionNotFound)
}

func (h *Handler) writePump(client *Client, sessionID string, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !h.sessionLive(sessionID) {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage,
					gorillawebsocket.FormatCloseMessage(gorillawebsocket.ClosePolicyViolation, "session expired"))
				h.hub.Unregister(client)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
