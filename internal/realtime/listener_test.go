package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/pipeline-server/internal/model"
)

func TestNewListenerRequiresConnString(t *testing.T) {
	t.Parallel()

	_, err := NewListener("")
	require.Error(t, err)
}

func TestNewListenerOptions(t *testing.T) {
	t.Parallel()

	l, err := NewListener("postgres://localhost/hirewire",
		WithChannel("custom_changes"),
		WithBuffer(16),
	)
	require.NoError(t, err)
	assert.Equal(t, "custom_changes", l.channel)
	assert.Equal(t, 16, l.buffer)

	l, err = NewListener("postgres://localhost/hirewire", WithBuffer(-1))
	require.NoError(t, err)
	assert.Equal(t, defaultBuffer, l.buffer, "non-positive buffer keeps the default")
	assert.Equal(t, DefaultChannel, l.channel)
}

// countingPolicy stands in for the exponential backoff so the reconnect
// loop's use of it can be observed without real waits.
type countingPolicy struct {
	nexts  atomic.Int32
	resets atomic.Int32
}

func (p *countingPolicy) NextBackOff() time.Duration {
	p.nexts.Add(1)
	return time.Millisecond
}

func (p *countingPolicy) Reset() {
	p.resets.Add(1)
}

func TestReconnectBackoffResetsAfterAttach(t *testing.T) {
	t.Parallel()

	l, err := NewListener("postgres://localhost/hirewire")
	require.NoError(t, err)

	policy := &countingPolicy{}
	l.newPolicy = func() reconnectPolicy { return policy }

	var calls atomic.Int32
	l.attach = func(_ context.Context, _ chan<- model.ChangeEvent, attached func()) error {
		switch calls.Add(1) {
		case 1, 2:
			// Connection refused before the LISTEN is ever in place.
		default:
			attached()
		}
		return errors.New("connection dropped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := l.Subscribe(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return policy.resets.Load() >= 1 }, 2*time.Second, 5*time.Millisecond,
		"a successful attach must reset the reconnect backoff")
	assert.GreaterOrEqual(t, calls.Load(), int32(3), "both failed attaches happen first")
	assert.GreaterOrEqual(t, policy.nexts.Load(), int32(2))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond, "the event channel closes on cancellation")
}
