package pipeline

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/pipeline-server/internal/model"
	"github.com/hirewire/pipeline-server/internal/store"
	"github.com/hirewire/pipeline-server/internal/store/storetest"
)

// trackingPayload renders a tracking row the way the change feed does.
func trackingPayload(row store.TrackingRow) []byte {
	m := map[string]any{
		"id":             row.ID.String(),
		"recruiter_id":   row.RecruiterID.String(),
		"applicant_id":   row.ApplicantID.String(),
		"application_id": row.ApplicationID.String(),
		"stage":          row.Stage,
		"rating":         row.Rating,
		"updated_at":     row.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(m)
	return b
}

func newSyncWithMetrics(t *testing.T, fx *storetest.Fixture) (*Synchronizer, *Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	return newTestSync(t, fx, WithMetrics(m)), m
}

func TestTrackingEventPureStageChangePatchesInPlace(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	s, m := newSyncWithMetrics(t, fx)
	startSync(t, s, recruiterID)

	after := row
	after.Stage = "interview"
	after.UpdatedAt = row.UpdatedAt.Add(time.Second)

	s.handleEvent(model.ChangeEvent{
		Table:  model.TableTracking,
		Op:     model.OpUpdate,
		Before: trackingPayload(row),
		After:  trackingPayload(after),
	})

	got := s.Candidates()
	require.Len(t, got, 1)
	assert.Equal(t, "interview", got[0].Stage)
	assert.True(t, after.UpdatedAt.Equal(got[0].UpdatedAt))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.realtimeApplied))
	assert.Zero(t, testutil.ToFloat64(m.invalidations), "a patchable event must not force a refetch")
}

func TestTrackingEventSuppressedDuringMutation(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	s, m := newSyncWithMetrics(t, fx)
	startSync(t, s, recruiterID)

	id := s.guard.begin()
	defer s.guard.end(id)

	after := row
	after.Stage = "hired"
	s.handleEvent(model.ChangeEvent{
		Table:  model.TableTracking,
		Op:     model.OpUpdate,
		Before: trackingPayload(row),
		After:  trackingPayload(after),
	})

	got := s.Candidates()
	require.Len(t, got, 1)
	assert.Equal(t, "to_contact", got[0].Stage, "events are dropped while a local move is in flight")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.realtimeSuppressed))
}

func TestTrackingEventOtherRecruiterIgnored(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	seedRows(fx, recruiterID, 1)

	s, m := newSyncWithMetrics(t, fx)
	startSync(t, s, recruiterID)

	other := store.TrackingRow{
		ID:            uuid.New(),
		RecruiterID:   uuid.New(),
		ApplicantID:   uuid.New(),
		ApplicationID: uuid.New(),
		Stage:         "hired",
		UpdatedAt:     time.Now().UTC(),
	}
	s.handleEvent(model.ChangeEvent{
		Table: model.TableTracking,
		Op:    model.OpInsert,
		After: trackingPayload(other),
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.realtimeIgnored))
	assert.Zero(t, testutil.ToFloat64(m.invalidations))
}

func TestTrackingEventComplexChangeRefetches(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	s, m := newSyncWithMetrics(t, fx)
	startSync(t, s, recruiterID)

	// A teammate changed stage and rating together; the backend is updated
	// first, then the event arrives.
	require.NoError(t, fx.Tracking.UpdateStage(context.Background(), row.ID, "hired"))
	require.NoError(t, fx.Tracking.UpdateRating(context.Background(), row.ID, 5))

	after := fx.Tracking.Rows[row.ID]
	s.handleEvent(model.ChangeEvent{
		Table:  model.TableTracking,
		Op:     model.OpUpdate,
		Before: trackingPayload(row),
		After:  trackingPayload(after),
	})

	require.Eventually(t, func() bool {
		got := s.Candidates()
		return len(got) == 1 && got[0].Stage == "hired" && got[0].Rating == 5
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.invalidations))
}

func TestTrackingEventDeleteRefetches(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	rows := seedRows(fx, recruiterID, 2)

	s, _ := newSyncWithMetrics(t, fx)
	startSync(t, s, recruiterID)

	require.NoError(t, fx.Tracking.Delete(context.Background(), rows[0].ID))
	s.handleEvent(model.ChangeEvent{
		Table:  model.TableTracking,
		Op:     model.OpDelete,
		Before: trackingPayload(rows[0]),
	})

	require.Eventually(t, func() bool {
		got := s.Candidates()
		return len(got) == 1 && got[0].ID == rows[1].ID
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProfileEventPatchesLastActive(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	s, m := newSyncWithMetrics(t, fx)
	startSync(t, s, recruiterID)

	lastActive := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	payload, _ := json.Marshal(map[string]any{
		"id":             row.ApplicantID.String(),
		"last_active_at": lastActive.Format(time.RFC3339Nano),
	})
	s.handleEvent(model.ChangeEvent{
		Table: model.TableProfiles,
		Op:    model.OpUpdate,
		After: payload,
	})

	got := s.Candidates()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Candidate.LastActiveAt)
	assert.True(t, lastActive.Equal(*got[0].Candidate.LastActiveAt))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.realtimeApplied))
}

func TestProfileEventUnloadedApplicantIgnored(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	seedRows(fx, recruiterID, 1)

	s, m := newSyncWithMetrics(t, fx)
	startSync(t, s, recruiterID)

	payload, _ := json.Marshal(map[string]any{
		"id":             uuid.New().String(),
		"last_active_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	s.handleEvent(model.ChangeEvent{
		Table: model.TableProfiles,
		Op:    model.OpUpdate,
		After: payload,
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.realtimeIgnored))
}

func TestApplicationInsertPatchesLatestApplication(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	s, m := newSyncWithMetrics(t, fx)
	startSync(t, s, recruiterID)

	submitted := time.Date(2025, 6, 3, 8, 30, 0, 0, time.UTC)
	payload, _ := json.Marshal(map[string]any{
		"id":           uuid.New().String(),
		"applicant_id": row.ApplicantID.String(),
		"submitted_at": submitted.Format(time.RFC3339Nano),
	})
	s.handleEvent(model.ChangeEvent{
		Table: model.TableApplications,
		Op:    model.OpInsert,
		After: payload,
	})

	got := s.Candidates()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Candidate.LatestApplicationAt)
	assert.True(t, submitted.Equal(*got[0].Candidate.LatestApplicationAt))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.realtimeApplied))
}

func TestApplicationUpdateIgnored(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	s, m := newSyncWithMetrics(t, fx)
	startSync(t, s, recruiterID)

	payload, _ := json.Marshal(map[string]any{
		"id":           uuid.New().String(),
		"applicant_id": row.ApplicantID.String(),
		"submitted_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	s.handleEvent(model.ChangeEvent{
		Table: model.TableApplications,
		Op:    model.OpUpdate,
		After: payload,
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.realtimeIgnored))
}

func TestAnnotationEventInvalidatesAndPublishes(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	seedRows(fx, recruiterID, 1)

	s, m := newSyncWithMetrics(t, fx)
	startSync(t, s, recruiterID)

	var published atomic.Bool
	unsub := s.Events().Subscribe(func(e Event) {
		if _, ok := e.(AnnotationsInvalidated); ok {
			published.Store(true)
		}
	})
	defer unsub()

	s.handleEvent(model.ChangeEvent{
		Table: model.TableRatings,
		Op:    model.OpUpdate,
	})

	assert.True(t, published.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.invalidations))
}

func TestUnknownTableIgnored(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	s, m := newSyncWithMetrics(t, fx)
	startSync(t, s, uuid.New())

	s.handleEvent(model.ChangeEvent{Table: "jobs", Op: model.OpInsert})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.realtimeIgnored))
}

func TestIsPureStageChange(t *testing.T) {
	t.Parallel()

	row := store.TrackingRow{
		ID:            uuid.New(),
		RecruiterID:   uuid.New(),
		ApplicantID:   uuid.New(),
		ApplicationID: uuid.New(),
		Stage:         "to_contact",
		Rating:        3,
		UpdatedAt:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name   string
		mutate func(*store.TrackingRow)
		want   bool
	}{
		{
			name:   "stage only",
			mutate: func(r *store.TrackingRow) { r.Stage = "interview" },
			want:   true,
		},
		{
			name: "stage with touched timestamp",
			mutate: func(r *store.TrackingRow) {
				r.Stage = "interview"
				r.UpdatedAt = r.UpdatedAt.Add(time.Second)
			},
			want: true,
		},
		{
			name: "stage and rating",
			mutate: func(r *store.TrackingRow) {
				r.Stage = "interview"
				r.Rating = 5
			},
			want: false,
		},
		{
			name:   "no stage change",
			mutate: func(r *store.TrackingRow) { r.Rating = 5 },
			want:   false,
		},
		{
			name:   "identical rows",
			mutate: func(*store.TrackingRow) {},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			after := row
			tt.mutate(&after)
			got := isPureStageChange(trackingPayload(row), trackingPayload(after))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsPureStageChangeMalformedPayloads(t *testing.T) {
	t.Parallel()

	assert.False(t, isPureStageChange(nil, []byte(`{"stage":"x"}`)))
	assert.False(t, isPureStageChange([]byte(`{"stage":"x"}`), []byte(`"not an object"`)))
}
