// Package pipeline implements the candidate pipeline synchronizer: a
// cursor-paginated, optimistically mutated, realtime-reconciled view of
// the candidates a recruiter is tracking. Presentation layers read the
// flattened or grouped projections and call the mutation methods; the
// synchronizer keeps the in-memory cache consistent with the backend.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hirewire/pipeline-server/internal/cache"
	"github.com/hirewire/pipeline-server/internal/logger"
	"github.com/hirewire/pipeline-server/internal/model"
	"github.com/hirewire/pipeline-server/internal/realtime"
	"github.com/hirewire/pipeline-server/internal/store"
)

var (
	// ErrOffline is returned when a mutation is attempted while the
	// connectivity signal reports offline. No network call is issued.
	ErrOffline = errors.New("you are offline")

	// ErrAlreadyInList is returned when adding an application that the
	// recruiter already tracks.
	ErrAlreadyInList = errors.New("candidate is already in your list")

	// ErrNotStarted is returned by operations that require Start first.
	ErrNotStarted = errors.New("synchronizer not started")

	// ErrNoStages is returned when a recruiter has deleted every stage and
	// a candidate cannot be placed anywhere.
	ErrNoStages = errors.New("no active pipeline stages configured")
)

// Connectivity is the synchronous online check consulted before mutations.
type Connectivity interface {
	Online() bool
}

// alwaysOnline is the default connectivity signal.
type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

const (
	defaultResyncInterval   = 5 * time.Minute
	defaultPrefetchDebounce = 250 * time.Millisecond

	// loadMoreAttempts bounds how often a pagination fetch is retried when
	// concurrent cache writes keep invalidating the page it loaded.
	loadMoreAttempts = 3
)

// Synchronizer keeps a recruiter's pipeline view consistent with the
// backend under local optimistic mutations and remote realtime changes.
type Synchronizer struct {
	stores    store.Stores
	feed      realtime.Feed
	snapshots *cache.SnapshotStore
	conn      Connectivity
	metrics   *Metrics
	clock     func() time.Time

	cache *cache.QueryCache
	bus   *Bus
	guard mutationGuard

	resyncInterval   time.Duration
	prefetchDebounce time.Duration
	prefetchDisabled bool

	fetch fetcher

	mu          sync.Mutex
	started     bool
	recruiterID uuid.UUID
	search      string
	stages      []model.Stage
	runCtx      context.Context
	cancel      context.CancelFunc

	inFlight atomic.Bool
	sf       singleflight.Group
	wg       sync.WaitGroup
}

// Option is a functional option for New.
type Option func(*Synchronizer) error

// WithStores sets the backend collaborators. Required.
func WithStores(s store.Stores) Option {
	return func(sy *Synchronizer) error {
		if err := s.Validate(); err != nil {
			return err
		}
		sy.stores = s
		return nil
	}
}

// WithFeed sets the realtime change feed. Optional; without a feed the
// synchronizer relies on the periodic resync alone.
func WithFeed(f realtime.Feed) Option {
	return func(sy *Synchronizer) error {
		sy.feed = f
		return nil
	}
}

// WithSnapshots enables durable first-paint snapshots.
func WithSnapshots(s *cache.SnapshotStore) Option {
	return func(sy *Synchronizer) error {
		sy.snapshots = s
		return nil
	}
}

// WithConnectivity sets the online signal consulted before mutations.
func WithConnectivity(c Connectivity) Option {
	return func(sy *Synchronizer) error {
		if c == nil {
			return fmt.Errorf("connectivity signal must not be nil")
		}
		sy.conn = c
		return nil
	}
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(sy *Synchronizer) error {
		sy.metrics = m
		return nil
	}
}

// WithResyncInterval overrides the periodic full-resync interval. Zero
// disables the resync loop entirely.
func WithResyncInterval(d time.Duration) Option {
	return func(sy *Synchronizer) error {
		if d < 0 {
			return fmt.Errorf("resync interval must not be negative")
		}
		sy.resyncInterval = d
		return nil
	}
}

// WithPrefetchDebounce overrides the delay before a background prefetch.
func WithPrefetchDebounce(d time.Duration) Option {
	return func(sy *Synchronizer) error {
		if d < 0 {
			return fmt.Errorf("prefetch debounce must not be negative")
		}
		sy.prefetchDebounce = d
		return nil
	}
}

// WithPrefetchDisabled turns off background prefetch. Purely a latency
// optimization, so disabling it affects no other guarantee.
func WithPrefetchDisabled() Option {
	return func(sy *Synchronizer) error {
		sy.prefetchDisabled = true
		return nil
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(sy *Synchronizer) error {
		if clock == nil {
			return fmt.Errorf("clock must not be nil")
		}
		sy.clock = clock
		return nil
	}
}

// New creates a synchronizer. WithStores is required; everything else has
// a sensible default.
func New(opts ...Option) (*Synchronizer, error) {
	s := &Synchronizer{
		conn:             alwaysOnline{},
		clock:            time.Now,
		cache:            cache.NewQueryCache(),
		bus:              NewBus(),
		resyncInterval:   defaultResyncInterval,
		prefetchDebounce: defaultPrefetchDebounce,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if err := s.stores.Validate(); err != nil {
		return nil, err
	}
	s.fetch = fetcher{stores: s.stores}
	return s, nil
}

// Events exposes the domain-event bus so sibling views can subscribe.
func (s *Synchronizer) Events() *Bus {
	return s.bus
}

// key returns the cache key for the current recruiter and search query.
func (s *Synchronizer) key() cache.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cache.Key{RecruiterID: s.recruiterID, Search: s.search}
}

// Start binds the synchronizer to a recruiter: paints from the local
// snapshot when one exists, loads the stage configuration, performs the
// first live fetch, subscribes to the realtime feed and starts the
// resync loop. Start replaces any previous binding.
func (s *Synchronizer) Start(ctx context.Context, recruiterID uuid.UUID) error {
	if recruiterID == uuid.Nil {
		return fmt.Errorf("recruiter id is required")
	}

	s.mu.Lock()
	prevRecruiter := uuid.Nil
	if s.started {
		prev := s.cancel
		prevRecruiter = s.recruiterID
		s.mu.Unlock()
		prev()
		s.wg.Wait()
		s.mu.Lock()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.started = true
	s.recruiterID = recruiterID
	s.search = ""
	s.runCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	if prevRecruiter != uuid.Nil && prevRecruiter != recruiterID {
		s.cache.Drop(prevRecruiter)
	}

	key := cache.Key{RecruiterID: recruiterID}

	// Snapshot paint: instant, advisory, immediately stale.
	if s.snapshots != nil {
		if snap := s.snapshots.Read(recruiterID); snap != nil && len(snap.Items) > 0 {
			s.cache.SetFirstPage(key, model.Page{Items: snap.Items, NextCursor: nil}, true)
			s.metrics.incSnapshotPaints()
			logger.Debugf("Painted %d candidates from snapshot for recruiter %s", len(snap.Items), recruiterID)
		}
	}

	stages, err := s.stores.Stages.List(ctx, recruiterID)
	if err != nil {
		s.abortStart(cancel)
		return fmt.Errorf("failed to load stage configuration: %w", err)
	}
	s.mu.Lock()
	s.stages = stages
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		s.abortStart(cancel)
		return err
	}

	if s.feed != nil {
		events, err := s.feed.Subscribe(runCtx)
		if err != nil {
			s.abortStart(cancel)
			return fmt.Errorf("failed to subscribe to change feed: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runReconciler(runCtx, events)
		}()
	}

	if s.resyncInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runResync(runCtx)
		}()
	}

	return nil
}

// abortStart unwinds a half-initialized Start so mutations keep refusing
// to run until a later Start succeeds.
func (s *Synchronizer) abortStart(cancel context.CancelFunc) {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	cancel()
	s.wg.Wait()
}

// Close tears down subscriptions and background loops. The cache contents
// remain readable.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// SetSearch switches between the default listing and a free-text search
// view. Each query has its own cache entry; an entry never fetched before
// is loaded now.
func (s *Synchronizer) SetSearch(ctx context.Context, query string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.search == query {
		s.mu.Unlock()
		return nil
	}
	s.search = query
	s.mu.Unlock()

	key := s.key()
	if s.cache.PageCount(key) == 0 || s.cache.Stale(key) {
		return s.Refresh(ctx)
	}
	return nil
}

// Refresh fetches the first page for the current view, replacing loaded
// pages, and persists the snapshot for the default listing.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	recruiterID, search := s.recruiterID, s.search
	s.mu.Unlock()

	key := cache.Key{RecruiterID: recruiterID, Search: search}
	page, err := s.fetch.FetchPage(ctx, recruiterID, search, nil)
	if err != nil {
		return fmt.Errorf("failed to refresh pipeline: %w", err)
	}
	s.metrics.incPagesFetched()
	s.cache.SetFirstPage(key, page, false)

	if search == "" && s.snapshots != nil {
		s.snapshots.Write(recruiterID, page.Items)
	}

	s.maybePrefetch(key)
	return nil
}

// LoadMore fetches the next page when one exists. It is safe to call
// concurrently; only one fetch per synchronizer runs at a time.
func (s *Synchronizer) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	recruiterID, search := s.recruiterID, s.search
	s.mu.Unlock()

	key := cache.Key{RecruiterID: recruiterID, Search: search}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer s.inFlight.Store(false)

	// The generation is read before the cursor: any cache write landing
	// between the two reads makes the generation stale and the append is
	// rejected. Without the guard, a refresh interleaved with the fetch
	// would replace the page list and the stale page appended after it
	// could skip rows the new data pushed across the page boundary.
	for attempt := 0; attempt < loadMoreAttempts; attempt++ {
		gen := s.cache.Generation(key)
		cursor := s.cache.NextCursor(key)
		if cursor == nil {
			return nil
		}

		page, err := s.fetch.FetchPage(ctx, recruiterID, search, cursor)
		if err != nil {
			return fmt.Errorf("failed to load next page: %w", err)
		}
		s.metrics.incPagesFetched()
		if s.cache.AppendPage(key, page, gen) {
			s.maybePrefetch(key)
			return nil
		}
	}

	// The view kept changing under the fetch. Give up; the rows are not
	// lost, the next LoadMore or the periodic resync picks them up.
	return nil
}

// Candidates returns the flattened, ordered view of all loaded pages.
func (s *Synchronizer) Candidates() []model.TrackedCandidate {
	return s.cache.Flatten(s.key())
}

// Board returns the candidates grouped into stage buckets.
func (s *Synchronizer) Board() model.Board {
	s.mu.Lock()
	stages := s.stages
	s.mu.Unlock()
	return cache.GroupByStage(s.Candidates(), stages)
}

// Stats returns per-stage counts over the loaded candidates.
func (s *Synchronizer) Stats() model.Stats {
	s.mu.Lock()
	stages := s.stages
	s.mu.Unlock()
	return cache.ComputeStats(s.Candidates(), stages)
}

// NextCursor returns the cursor of the last loaded page, or nil when the
// list is exhausted.
func (s *Synchronizer) NextCursor() *model.Cursor {
	return s.cache.NextCursor(s.key())
}

// Stages returns the recruiter's stage configuration as loaded at Start.
func (s *Synchronizer) Stages() []model.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Stage, len(s.stages))
	copy(out, s.stages)
	return out
}

// CheckReadiness reports whether the synchronizer can serve: it must be
// started and the backend reachable per the connectivity signal.
func (s *Synchronizer) CheckReadiness(_ context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if !s.conn.Online() {
		return ErrOffline
	}
	return nil
}

// invalidate marks the current view stale and schedules a reconciling
// refetch on the synchronizer's own lifecycle context.
func (s *Synchronizer) invalidate(key cache.Key) {
	s.cache.Invalidate(key)
	s.metrics.incInvalidations()

	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil || runCtx.Err() != nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err, _ := s.sf.Do("refresh:"+key.Search, func() (any, error) {
			return nil, s.Refresh(runCtx)
		}); err != nil && runCtx.Err() == nil {
			logger.Warnf("Reconciling refetch failed: %v", err)
		}
	}()
}

// runResync periodically forces a full refresh. The realtime feed is
// best-effort; this loop is the authoritative correctness backstop.
func (s *Synchronizer) runResync(ctx context.Context) {
	ticker := time.NewTicker(s.resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("Periodic resync failed: %v", err)
			}
		}
	}
}
