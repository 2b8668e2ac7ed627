package icuclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/icu/icu/internal/platform/feed"
)

// Applier folds change events into local state.
type Applier interface {
	Apply(ev feed.Event) (bool, error)
}

// Feed is a change-feed connection. Events are applied to every registered
// Applier in delivery order.
type Feed struct {
	conn *websocket.Conn

	mu       sync.RWMutex
	appliers []Applier
	onResync func()
	onError  func(error)
	writeMu  sync.Mutex
}

func feedURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL + apiPrefix + "/ws")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DialFeed opens the change feed with the client's session.
func (c *Client) DialFeed(ctx context.Context) (*Feed, error) {
	token := c.Token()
	if token == "" {
		return nil, fmt.Errorf("icu feed: not signed in")
	}
	u, err := feedURL(c.baseURL, token)
	if err != nil {
		return nil, fmt.Errorf("icu feed: %w", err)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, decodeError(resp.StatusCode, nil)
		}
		return nil, fmt.Errorf("icu feed: dial: %w", err)
	}
	return &Feed{conn: conn}, nil
}

// Register adds an Applier for subsequent events.
func (f *Feed) Register(a Applier) {
	f.mu.Lock()
	f.appliers = append(f.appliers, a)
	f.mu.Unlock()
}

// OnResync is called when the server reports that events may have been
// missed. Views should reload.
func (f *Feed) OnResync(fn func()) {
	f.mu.Lock()
	f.onResync = fn
	f.mu.Unlock()
}

// OnError receives events that could not be applied.
func (f *Feed) OnError(fn func(error)) {
	f.mu.Lock()
	f.onError = fn
	f.mu.Unlock()
}

func (f *Feed) send(msg feed.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe asks for events on topics. The server replies asynchronously and
// silently drops topics the user may not read.
func (f *Feed) Subscribe(topics ...string) error {
	return f.send(feed.ClientMessage{Action: "subscribe", Topics: topics})
}

func (f *Feed) Unsubscribe(topics ...string) error {
	return f.send(feed.ClientMessage{Action: "unsubscribe", Topics: topics})
}

// Run reads frames until ctx is done or the connection drops.
func (f *Feed) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		f.conn.Close()
	}()
	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("icu feed: read: %w", err)
		}
		var msg feed.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		f.dispatch(msg)
	}
}

func (f *Feed) dispatch(msg feed.ServerMessage) {
	f.mu.RLock()
	appliers := f.appliers
	onResync, onError := f.onResync, f.onError
	f.mu.RUnlock()

	switch msg.Kind {
	case "event":
		if msg.Event == nil {
			return
		}
		for _, a := range appliers {
			if _, err := a.Apply(*msg.Event); err != nil && onError != nil {
				onError(err)
			}
		}
	case "resync":
		if onResync != nil {
			onResync()
		}
	}
}

func (f *Feed) Close() error {
	return f.conn.Close()
}
