package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/hirewire/pipeline-server/internal/logger"
	"github.com/hirewire/pipeline-server/internal/model"
)

// runReconciler consumes the change feed and patches or invalidates the
// in-memory cache. Feeds are scoped broadly; events that do not concern
// the loaded candidate set are filtered here, client-side.
func (s *Synchronizer) runReconciler(ctx context.Context, events <-chan model.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Synchronizer) handleEvent(ev model.ChangeEvent) {
	switch ev.Table {
	case model.TableTracking:
		s.handleTrackingEvent(ev)
	case model.TableProfiles:
		s.handleProfileEvent(ev)
	case model.TableApplications:
		s.handleApplicationEvent(ev)
	case model.TableRatings, model.TableNotes:
		s.handleAnnotationEvent(ev)
	default:
		s.metrics.incRealtimeIgnored()
	}
}

// handleTrackingEvent patches a pure stage change in place and falls back
// to invalidation for every other change shape. While a local stage-move
// mutation is in flight, tracking events are suppressed entirely so a
// teammate's update (or the echo of our own write) cannot race the
// optimistic state.
func (s *Synchronizer) handleTrackingEvent(ev model.ChangeEvent) {
	if s.guard.active() {
		s.metrics.incRealtimeSuppressed()
		return
	}

	s.mu.Lock()
	recruiterID := s.recruiterID
	s.mu.Unlock()
	key := s.key()

	owner, _ := uuid.Parse(gjson.GetBytes(ev.After, "recruiter_id").String())
	if ev.Op == model.OpDelete {
		owner, _ = uuid.Parse(gjson.GetBytes(ev.Before, "recruiter_id").String())
	}
	if owner != recruiterID {
		s.metrics.incRealtimeIgnored()
		return
	}

	if ev.Op == model.OpUpdate && isPureStageChange(ev.Before, ev.After) {
		id, err := uuid.Parse(gjson.GetBytes(ev.After, "id").String())
		if err != nil {
			s.invalidate(key)
			return
		}
		stage := gjson.GetBytes(ev.After, "stage").String()
		updatedAt := parseEventTime(gjson.GetBytes(ev.After, "updated_at").String())
		if s.cache.PatchItem(key, id, func(t *model.TrackedCandidate) {
			t.Stage = stage
			if updatedAt != nil {
				t.UpdatedAt = *updatedAt
			}
		}) {
			s.metrics.incRealtimeApplied()
			return
		}
		// Row not loaded; fall through to a reconciling refetch.
	}

	s.invalidate(key)
}

// isPureStageChange reports whether before and after differ only in the
// stage field (plus the update timestamp the backend touches with it).
func isPureStageChange(before, after []byte) bool {
	b := gjson.ParseBytes(before)
	a := gjson.ParseBytes(after)
	if !b.IsObject() || !a.IsObject() {
		return false
	}
	if b.Get("stage").String() == a.Get("stage").String() {
		return false
	}

	pure := true
	a.ForEach(func(k, v gjson.Result) bool {
		name := k.String()
		if name == "stage" || name == "updated_at" {
			return true
		}
		if b.Get(name).Raw != v.Raw {
			pure = false
			return false
		}
		return true
	})
	return pure
}

// handleProfileEvent patches the applicant's last-active timestamp in
// place when the applicant is currently loaded.
func (s *Synchronizer) handleProfileEvent(ev model.ChangeEvent) {
	if ev.Op != model.OpUpdate {
		s.metrics.incRealtimeIgnored()
		return
	}
	applicantID, err := uuid.Parse(gjson.GetBytes(ev.After, "id").String())
	if err != nil {
		return
	}
	key := s.key()
	if !s.cache.ContainsApplicant(key, applicantID) {
		s.metrics.incRealtimeIgnored()
		return
	}

	lastActive := parseEventTime(gjson.GetBytes(ev.After, "last_active_at").String())
	if lastActive == nil {
		return
	}
	if s.cache.PatchByApplicant(key, applicantID, func(t *model.TrackedCandidate) {
		t.Candidate.LastActiveAt = lastActive
	}) > 0 {
		s.metrics.incRealtimeApplied()
	}
}

// handleApplicationEvent patches the applicant's latest-application
// timestamp when a loaded applicant submits a new application. Only
// inserts are observed on this table.
func (s *Synchronizer) handleApplicationEvent(ev model.ChangeEvent) {
	if ev.Op != model.OpInsert {
		s.metrics.incRealtimeIgnored()
		return
	}
	applicantID, err := uuid.Parse(gjson.GetBytes(ev.After, "applicant_id").String())
	if err != nil {
		return
	}
	key := s.key()
	if !s.cache.ContainsApplicant(key, applicantID) {
		s.metrics.incRealtimeIgnored()
		return
	}

	submitted := parseEventTime(gjson.GetBytes(ev.After, "submitted_at").String())
	if submitted == nil {
		return
	}
	if s.cache.PatchByApplicant(key, applicantID, func(t *model.TrackedCandidate) {
		t.Candidate.LatestApplicationAt = submitted
	}) > 0 {
		s.metrics.incRealtimeApplied()
	}
}

// handleAnnotationEvent invalidates on any durable rating or notes change.
// Annotations are shared across tracking relationships, which makes a
// targeted patch unsafe, and these events are rare enough for a refetch.
func (s *Synchronizer) handleAnnotationEvent(ev model.ChangeEvent) {
	logger.Debugf("Annotation change on %s (%s), invalidating pipeline view", ev.Table, ev.Op)
	s.invalidate(s.key())
	s.bus.Publish(AnnotationsInvalidated{})
}

func parseEventTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
