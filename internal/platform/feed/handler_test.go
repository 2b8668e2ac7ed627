package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/platform/auth"
)

// serveFeed mounts the feed handler behind a middleware that attaches sess,
// standing in for auth.Authenticate.
func serveFeed(t *testing.T, hub *Hub, store auth.SessionStore, sess *auth.Session) *gorillawebsocket.Conn {
	t.Helper()
	h := NewHandler(hub, store, nil)
	h.pingPeriod = 20 * time.Millisecond

	e := echo.New()
	e.GET("/ws", h.Connect, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithSession(c.Request().Context(), sess)))
			return next(c)
		}
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", want, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_ClosesWhenSessionEnds(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	store := auth.NewMemoryStore(time.Hour)
	defer store.Close()

	sess := auth.NewSession(uuid.New(), "N-001", "Night Nurse", auth.RoleNurse, time.Now())
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save session: %v", err)
	}
	ws := serveFeed(t, hub, store, sess)
	waitForClients(t, hub, 1)

	// Still open across several pings while the session lives.
	time.Sleep(80 * time.Millisecond)
	if hub.ClientCount() != 1 {
		t.Fatal("connection dropped while the session was live")
	}

	if err := store.Delete(context.Background(), sess.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		if !gorillawebsocket.IsCloseError(err, gorillawebsocket.ClosePolicyViolation) {
			t.Fatalf("expected a policy-violation close, got %v", err)
		}
		break
	}
	waitForClients(t, hub, 0)
}

func TestHandler_SubscribeReply(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	store := auth.NewMemoryStore(time.Hour)
	defer store.Close()

	sess := auth.NewSession(uuid.New(), "D-001", "Dr. Grey", auth.RoleDoctor, time.Now())
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save session: %v", err)
	}
	ws := serveFeed(t, hub, store, sess)

	if err := ws.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"table:vitals", "table:app_user"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	var reply ServerMessage
	if err := ws.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Kind != "subscribed" || len(reply.Refused) != 1 || reply.Refused[0] != "table:app_user" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
