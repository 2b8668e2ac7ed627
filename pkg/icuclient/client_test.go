package icuclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icu/icu/internal/domain/clinical"
	"github.com/icu/icu/internal/platform/auth"
	"github.com/icu/icu/internal/platform/feed"
)

const testToken = "signed-token"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]string{"code": code, "message": msg}})
}

func loginHandler(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	json.NewDecoder(r.Body).Decode(&body)
	if body["employee_code"] != "D001" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid employee code")
		return
	}
	sess := auth.NewSession(uuid.New(), "D001", "Dr. Lee", auth.RoleDoctor, time.Now())
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": testToken, "session": sess})
}

func authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+testToken
}

func TestLogin_StoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(loginHandler))
	defer srv.Close()

	c := New(srv.URL)
	sess, err := c.Login(context.Background(), "D001")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Lee", sess.Name)
	assert.Equal(t, testToken, c.Token())
	assert.Equal(t, auth.RoleDoctor, c.Session().Role)
}

func TestLogin_UnknownCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(loginHandler))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Login(context.Background(), "X999")
	require.Error(t, err)
	assert.True(t, IsUnauthenticated(err))
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "invalid employee code", ae.Message)
	assert.Empty(t, c.Token())
}

func TestUnauthorizedClearsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", loginHandler)
	mux.HandleFunc("/api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "session expired")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Login(context.Background(), "D001")
	require.NoError(t, err)

	_, err = c.Me(context.Background())
	assert.True(t, IsUnauthenticated(err))
	assert.Empty(t, c.Token(), "expected token cleared after 401")
	assert.Nil(t, c.Session())
}

func TestLogout_DropsTokenOnFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", loginHandler)
	mux.HandleFunc("/api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusBadGateway, "REMOTE_ERROR", "store unavailable")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	c.Login(context.Background(), "D001")
	err := c.Logout(context.Background())
	assert.True(t, IsCode(err, "REMOTE_ERROR"))
	assert.Empty(t, c.Token())
}

// Writes are not idempotent: a dropped connection must surface as an error
// rather than resend the request.
func TestWriteNotResentAfterDroppedConnection(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	c := New(srv.URL, WithTimeout(2*time.Second))
	_, err := c.Login(context.Background(), "D001")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDecodeError_NonJSONBody(t *testing.T) {
	e := decodeError(http.StatusServiceUnavailable, []byte("<html>down</html>"))
	assert.Equal(t, http.StatusServiceUnavailable, e.Status)
	assert.Equal(t, "Service Unavailable", e.Message)
	assert.Empty(t, e.Code)
}

func vitalsEvent(t *testing.T, v clinical.Vitals) feed.Event {
	t.Helper()
	row, err := json.Marshal(v)
	require.NoError(t, err)
	return feed.Event{
		Type: feed.Insert, Table: feed.TableVitals, RowID: v.ID.String(), Version: v.Version, New: row,
	}
}

func TestAggregator_CreateDoesNotTouchList(t *testing.T) {
	patientID := uuid.New()
	newID := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", loginHandler)
	path := "/api/v1/patients/" + patientID.String() + "/vitals"
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing session token")
			return
		}
		if r.Method == http.MethodPost {
			writeJSON(w, http.StatusAccepted, clinical.Accepted{ID: newID})
			return
		}
		writeJSON(w, http.StatusOK, []clinical.Vitals{{ID: uuid.New(), PatientID: patientID, Version: 1, HeartRate: 80}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Login(context.Background(), "D001")
	require.NoError(t, err)

	vitals := c.Vitals(patientID)
	require.NoError(t, vitals.Load(context.Background()))
	require.Len(t, vitals.List(), 1)

	id, err := vitals.Create(context.Background(), map[string]interface{}{"heart_rate": 90})
	require.NoError(t, err)
	assert.Equal(t, newID, id)
	assert.Len(t, vitals.List(), 1, "a write must not change the list before its event arrives")

	changed, err := vitals.Apply(vitalsEvent(t, clinical.Vitals{ID: newID, PatientID: patientID, Version: 1, HeartRate: 90}))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, vitals.List(), 2)
}

func TestVitals_OnCriticalVitals(t *testing.T) {
	patientID := uuid.New()
	v := New("http://localhost").Vitals(patientID)
	var alerts []clinical.Vitals
	v.OnCriticalVitals = func(row clinical.Vitals) { alerts = append(alerts, row) }

	critical := clinical.Vitals{ID: uuid.New(), PatientID: patientID, Version: 1, HeartRate: 140, OxygenSaturation: 95, Temperature: 37}
	normal := clinical.Vitals{ID: uuid.New(), PatientID: patientID, Version: 1, HeartRate: 80, OxygenSaturation: 97, Temperature: 37}
	other := clinical.Vitals{ID: uuid.New(), PatientID: uuid.New(), Version: 1, HeartRate: 150, OxygenSaturation: 80, Temperature: 39}

	for _, row := range []clinical.Vitals{critical, normal, other} {
		_, err := v.Apply(vitalsEvent(t, row))
		require.NoError(t, err)
	}
	// Redelivery of the same event does not alert twice.
	v.Apply(vitalsEvent(t, critical))

	require.Len(t, alerts, 1)
	assert.Equal(t, critical.ID, alerts[0].ID)
	assert.Len(t, v.List(), 2, "rows of other patients are ignored")
}

func TestFeed_DispatchesEvents(t *testing.T) {
	patientID := uuid.New()
	upgrader := websocket.Upgrader{}
	subscribed := make(chan []string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", loginHandler)
	mux.HandleFunc("/api/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var msg feed.ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		subscribed <- msg.Topics

		row, _ := json.Marshal(clinical.Vitals{ID: uuid.New(), PatientID: patientID, Version: 1, HeartRate: 70})
		ev := feed.Event{Type: feed.Insert, Table: feed.TableVitals, RowID: uuid.NewString(), Version: 1, New: row}
		ws.WriteJSON(feed.ServerMessage{Kind: "event", Event: &ev})
		ws.WriteJSON(feed.ServerMessage{Kind: "resync"})
		// Hold the connection until the client closes it.
		ws.ReadMessage()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Login(context.Background(), "D001")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := c.DialFeed(ctx)
	require.NoError(t, err)

	vitals := c.Vitals(patientID)
	f.Register(vitals)
	resynced := make(chan struct{})
	f.OnResync(func() { close(resynced) })
	require.NoError(t, f.Subscribe(vitals.Topic()))

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- f.Run(runCtx) }()

	assert.Equal(t, []string{feed.PatientTopic(patientID.String())}, <-subscribed)
	select {
	case <-resynced:
	case <-ctx.Done():
		t.Fatal("timed out waiting for frames")
	}
	assert.Len(t, vitals.List(), 1)

	stop()
	<-done
}

func TestDialFeed_RequiresLogin(t *testing.T) {
	_, err := New("http://localhost").DialFeed(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not signed in"))
}

func TestFeedURL(t *testing.T) {
	u, err := feedURL("https://icu.example.org", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://icu.example.org/api/v1/ws?token=abc", u)
}
