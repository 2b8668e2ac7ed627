package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/platform/telemetry"
)

// Channel is the LISTEN channel the row change triggers notify on.
const Channel = "row_changes"

// hydratable lists the tables whose rows may be refetched when a payload was
// too large to carry the row image.
var hydratable = map[string]bool{
	TablePatient:      true,
	TableEpisode:      true,
	TableDischarge:    true,
	TableVitals:       true,
	TableMedication:   true,
	TableLabResult:    true,
	TableProcedure:    true,
	TableProgressNote: true,
	TableNotification: true,
	TableUser:         true,
}

// Listener holds a dedicated connection listening for row changes and fans
// decoded events out to sinks in commit order.
type Listener struct {
	pool        *pgxpool.Pool
	sinks       []Sink
	backoff     time.Duration
	onReconnect []func()
	logger      zerolog.Logger
	connected   atomic.Bool
}

// NewListener creates a listener delivering to sinks.
func NewListener(pool *pgxpool.Pool, logger zerolog.Logger, sinks ...Sink) *Listener {
	return &Listener{
		pool:    pool,
		sinks:   sinks,
		backoff: 2 * time.Second,
		logger:  logger.With().Str("component", "feed_listener").Logger(),
	}
}

// OnReconnect registers fn to run each time the listener re-establishes its
// connection after a drop.
func (l *Listener) OnReconnect(fn func()) {
	l.onReconnect = append(l.onReconnect, fn)
}

// Run listens until ctx is cancelled, reconnecting with a fixed backoff.
func (l *Listener) Run(ctx context.Context) error {
	first := true
	for {
		err := l.listen(ctx, first)
		first = false
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Error().Err(err).Dur("backoff", l.backoff).Msg("change feed connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listen(ctx context.Context, first bool) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}
	l.setConnected(true)
	defer l.setConnected(false)

	if !first {
		for _, fn := range l.onReconnect {
			fn()
		}
	}
	l.logger.Info().Str("channel", Channel).Msg("change feed listening")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		ev, err := Decode([]byte(n.Payload))
		if err != nil {
			l.logger.Warn().Err(err).Msg("dropping malformed change event")
			continue
		}
		if ev.Truncated {
			if err := l.hydrate(ctx, &ev); err != nil {
				l.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("hydrate truncated event")
			}
		}
		l.Dispatch(ctx, ev)
	}
}

// hydrate refetches the row image of a truncated insert or update.
func (l *Listener) hydrate(ctx context.Context, ev *Event) error {
	if ev.Type == Delete {
		return nil
	}
	if !hydratable[ev.Table] {
		return fmt.Errorf("table %q is not hydratable", ev.Table)
	}
	var row []byte
	err := l.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT to_jsonb(t) FROM %s t WHERE id = $1`, ev.Table), ev.RowID,
	).Scan(&row)
	if err != nil {
		return fmt.Errorf("refetch %s %s: %w", ev.Table, ev.RowID, err)
	}
	ev.New = row
	ev.Truncated = false
	return nil
}

// Dispatch delivers ev to every sink. A panicking sink is logged and skipped.
func (l *Listener) Dispatch(ctx context.Context, ev Event) {
	telemetry.RecordFeedEvent(ev.Table, string(ev.Type))
	for _, s := range l.sinks {
		l.deliver(ctx, s, ev)
	}
}

func (l *Listener) deliver(ctx context.Context, s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Str("event_id", ev.ID).Msg("feed sink panicked")
		}
	}()
	s.Handle(ctx, ev)
}

func (l *Listener) setConnected(v bool) {
	l.connected.Store(v)
	telemetry.SetFeedConnected(v)
}

// Connected reports whether the listener currently holds its connection.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// ErrNotListening is reported by Check while the listener is disconnected.
var ErrNotListening = errors.New("change feed listener disconnected")

// Check is a health check for the listener.
func (l *Listener) Check(context.Context) error {
	if !l.Connected() {
		return ErrNotListening
	}
	return nil
}
