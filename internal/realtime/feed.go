// Package realtime delivers row-level change events from the backend to
// the synchronizer. The feed is best-effort: it reconnects transparently
// and may drop events under pressure, so consumers must pair it with a
// periodic full resync as the correctness backstop.
package realtime

import (
	"context"

	"github.com/hirewire/pipeline-server/internal/model"
)

// Feed is a subscription to backend change events. The returned channel is
// closed when ctx is cancelled; events arriving while the subscriber is
// not keeping up may be dropped.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error)
}
