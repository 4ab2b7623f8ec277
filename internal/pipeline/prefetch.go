package pipeline

import (
	"time"

	"github.com/hirewire/pipeline-server/internal/cache"
	"github.com/hirewire/pipeline-server/internal/logger"
)

// maybePrefetch schedules a background fetch of the page after the last
// loaded one. Exactly one page is fetched ahead at a time: the fetch is
// debounced, single-flighted per query key, and re-triggered only after
// the page lands (LoadMore calls maybePrefetch again). Latency hiding
// only; correctness never depends on it.
func (s *Synchronizer) maybePrefetch(key cache.Key) {
	if s.prefetchDisabled {
		return
	}
	if s.cache.NextCursor(key) == nil {
		return
	}

	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil || runCtx.Err() != nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-runCtx.Done():
			return
		case <-time.After(s.prefetchDebounce):
		}

		// The current key may have changed during the debounce window
		// (search toggled, user switched); prefetching a stale key would
		// waste a round-trip.
		if s.key() != key {
			return
		}

		if _, err, _ := s.sf.Do("prefetch:"+key.Search, func() (any, error) {
			s.metrics.incPrefetches()
			return nil, s.LoadMore(runCtx)
		}); err != nil && runCtx.Err() == nil {
			logger.Debugf("Background prefetch failed: %v", err)
		}
	}()
}
