package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"

	"github.com/hirewire/pipeline-server/internal/logger"
	"github.com/hirewire/pipeline-server/internal/model"
)

const (
	// DefaultChannel is the Postgres NOTIFY channel the pipeline trigger
	// publishes to.
	DefaultChannel = "pipeline_changes"

	defaultBuffer          = 256
	defaultMaxReconnectGap = 30 * time.Second
)

// Listener is a Postgres LISTEN/NOTIFY backed Feed. It holds a dedicated
// connection outside any pool and reconnects with exponential backoff when
// the connection drops.
type Listener struct {
	connString string
	channel    string
	buffer     int

	// attach and newPolicy are swapped out by tests.
	attach    func(ctx context.Context, events chan<- model.ChangeEvent, attached func()) error
	newPolicy func() reconnectPolicy
}

// reconnectPolicy is the slice of the backoff policy the listen loop needs.
// The v5 BackOff interface dropped Reset, so the concrete type is named here.
type reconnectPolicy interface {
	NextBackOff() time.Duration
	Reset()
}

var _ Feed = (*Listener)(nil)

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithChannel overrides the NOTIFY channel name.
func WithChannel(channel string) ListenerOption {
	return func(l *Listener) {
		l.channel = channel
	}
}

// WithBuffer overrides the subscriber channel buffer size.
func WithBuffer(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.buffer = n
		}
	}
}

// NewListener creates a listener for the given connection string.
func NewListener(connString string, opts ...ListenerOption) (*Listener, error) {
	if connString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	l := &Listener{
		connString: connString,
		channel:    DefaultChannel,
		buffer:     defaultBuffer,
	}
	l.attach = l.listenOnce
	l.newPolicy = func() reconnectPolicy {
		policy := backoff.NewExponentialBackOff()
		policy.MaxInterval = defaultMaxReconnectGap
		return policy
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Subscribe starts the listen loop and returns the event channel. The
// channel is closed once ctx is cancelled.
func (l *Listener) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	events := make(chan model.ChangeEvent, l.buffer)
	go l.run(ctx, events)
	return events, nil
}

func (l *Listener) run(ctx context.Context, events chan<- model.ChangeEvent) {
	defer close(events)

	policy := l.newPolicy()

	for {
		if ctx.Err() != nil {
			return
		}

		// A successful LISTEN resets the policy, so the gap after an
		// extended outage does not stick for every later disconnect.
		err := l.attach(ctx, events, policy.Reset)
		if ctx.Err() != nil {
			return
		}
		wait := policy.NextBackOff()
		logger.Warnf("Realtime listener disconnected, reconnecting in %s: %v", wait, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// listenOnce holds one connection until it fails or ctx is cancelled.
// attached is called once the LISTEN is in place.
func (l *Listener) listenOnce(ctx context.Context, events chan<- model.ChangeEvent, attached func()) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.channel, err)
	}
	logger.Infof("Realtime listener attached to channel %s", l.channel)
	attached()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		var ev model.ChangeEvent
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			logger.Warnf("Dropping malformed change payload: %v", err)
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Slow subscriber. Dropping is acceptable: the periodic
			// resync reconciles anything missed here.
			logger.Warnf("Realtime subscriber lagging, dropped %s event on %s", ev.Op, ev.Table)
		}
	}
}
