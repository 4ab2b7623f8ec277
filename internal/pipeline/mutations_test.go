package pipeline

import (
	"context"
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

func TestAddSeedsDurableAnnotations(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	applicantID := uuid.New()

	require.NoError(t, fx.Ratings.Upsert(context.Background(), recruiterID, applicantID, nil, 4))
	require.NoError(t, fx.Notes.Upsert(context.Background(), recruiterID, applicantID, nil, "strong portfolio"))

	s := newTestSync(t, fx)
	startSync(t, s, recruiterID)

	added, err := s.Add(context.Background(), AddCandidateInput{
		ApplicantID:   applicantID,
		ApplicationID: uuid.New(),
	})
	require.NoError(t, err)
	require.NotNil(t, added)

	assert.Equal(t, "to_contact", added.Stage, "new candidates land in the first active stage")
	assert.Equal(t, 4, added.Rating)
	require.NotNil(t, added.Notes)
	assert.Equal(t, "strong portfolio", *added.Notes)

	row, ok := fx.Tracking.Rows[added.ID]
	require.True(t, ok, "server row must exist")
	assert.Equal(t, 4, row.Rating)
}

func TestAddDuplicateRollsBack(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	existing := seedRows(fx, recruiterID, 1)[0]

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	s := newTestSync(t, fx, WithMetrics(m))
	startSync(t, s, recruiterID)
	before := s.Candidates()

	_, err = s.Add(context.Background(), AddCandidateInput{
		ApplicantID:   existing.ApplicantID,
		ApplicationID: existing.ApplicationID,
	})
	require.ErrorIs(t, err, ErrAlreadyInList)

	assert.Equal(t, before, s.Candidates(), "failed add must restore the exact prior view")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.optimisticRollbacks))
}

func TestAddWithoutActiveStages(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	fx.Stages.Configured = []model.Stage{
		{Key: "old", Label: "Old", Position: 0, Deleted: true},
	}

	s := newTestSync(t, fx)
	startSync(t, s, uuid.New())

	_, err := s.Add(context.Background(), AddCandidateInput{
		ApplicantID:   uuid.New(),
		ApplicationID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrNoStages)
}

func TestAddBulkFiltersExisting(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	existing := seedRows(fx, recruiterID, 1)[0]

	s := newTestSync(t, fx)
	startSync(t, s, recruiterID)

	result, err := s.AddBulk(context.Background(), []AddCandidateInput{
		{ApplicantID: existing.ApplicantID, ApplicationID: existing.ApplicationID},
		{ApplicantID: uuid.New(), ApplicationID: uuid.New()},
		{ApplicantID: uuid.New(), ApplicationID: uuid.New()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.AlreadyExisted)
	assert.Len(t, fx.Tracking.Rows, 3)

	require.Eventually(t, func() bool {
		return len(s.Candidates()) == 3
	}, 2*time.Second, 5*time.Millisecond, "reconciling refetch should surface the new rows")
}

func TestAddBulkEmptyInput(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	s := newTestSync(t, fx)
	startSync(t, s, uuid.New())

	result, err := s.AddBulk(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Added)
	assert.Zero(t, result.AlreadyExisted)
}

func TestMoveStageKeepsOptimisticPatch(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	s := newTestSync(t, fx)
	startSync(t, s, recruiterID)

	require.NoError(t, s.MoveStage(context.Background(), row.ID, "interview"))

	got := s.Candidates()
	require.Len(t, got, 1)
	assert.Equal(t, "interview", got[0].Stage)
	assert.Equal(t, "interview", fx.Tracking.Rows[row.ID].Stage)
}

func TestMoveStageFailureRollsBack(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]
	fx.Tracking.Errs["UpdateStage"] = assert.AnError

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	s := newTestSync(t, fx, WithMetrics(m))
	startSync(t, s, recruiterID)
	before := s.Candidates()

	require.Error(t, s.MoveStage(context.Background(), row.ID, "interview"))
	assert.Equal(t, before, s.Candidates())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.optimisticRollbacks))
}

func TestRemove(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	rows := seedRows(fx, recruiterID, 2)

	s := newTestSync(t, fx)
	startSync(t, s, recruiterID)

	require.NoError(t, s.Remove(context.Background(), rows[0].ID))

	for _, item := range s.Candidates() {
		assert.NotEqual(t, rows[0].ID, item.ID)
	}
	_, ok := fx.Tracking.Rows[rows[0].ID]
	assert.False(t, ok)
}

func TestRemoveFailureRollsBack(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]
	fx.Tracking.Errs["Delete"] = assert.AnError

	s := newTestSync(t, fx)
	startSync(t, s, recruiterID)
	before := s.Candidates()

	require.Error(t, s.Remove(context.Background(), row.ID))
	assert.Equal(t, before, s.Candidates())
	_, ok := fx.Tracking.Rows[row.ID]
	assert.True(t, ok)
}

func TestUpdateRatingSurvivesRemoveAndReAdd(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	s := newTestSync(t, fx)
	startSync(t, s, recruiterID)

	require.NoError(t, s.UpdateRating(context.Background(), row.ID, 5))
	assert.Equal(t, 5, fx.Tracking.Rows[row.ID].Rating)

	require.NoError(t, s.Remove(context.Background(), row.ID))

	added, err := s.Add(context.Background(), AddCandidateInput{
		ApplicantID:   row.ApplicantID,
		ApplicationID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, added.Rating, "rating outlives the tracking relationship")
}

func TestUpdateRatingValidation(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	s := newTestSync(t, fx)
	startSync(t, s, recruiterID)

	require.Error(t, s.UpdateRating(context.Background(), row.ID, -1))
	require.ErrorIs(t, s.UpdateRating(context.Background(), uuid.New(), 3), store.ErrNotFound)
}

func TestUpdateNotesSetAndClear(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	s := newTestSync(t, fx)
	startSync(t, s, recruiterID)

	require.NoError(t, s.UpdateNotes(context.Background(), row.ID, "call on Monday"))
	got := s.Candidates()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Notes)
	assert.Equal(t, "call on Monday", *got[0].Notes)

	durable, err := fx.Notes.Get(context.Background(), recruiterID, row.ApplicantID)
	require.NoError(t, err)
	require.NotNil(t, durable)
	assert.Equal(t, "call on Monday", *durable)

	require.NoError(t, s.UpdateNotes(context.Background(), row.ID, ""))
	got = s.Candidates()
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Notes)

	durable, err = fx.Notes.Get(context.Background(), recruiterID, row.ApplicantID)
	require.NoError(t, err)
	assert.Nil(t, durable)
}

func TestMarkViewed(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]
	fx.Applications.Apps[row.ApplicationID] = store.Application{
		ID:          row.ApplicationID,
		ApplicantID: row.ApplicantID,
		Name:        "Ada Lovelace",
	}

	s := newTestSync(t, fx)
	startSync(t, s, recruiterID)

	require.NoError(t, s.MarkViewed(context.Background(), row.ApplicationID))

	got := s.Candidates()
	require.Len(t, got, 1)
	assert.NotNil(t, got[0].Candidate.ViewedAt)
	assert.NotNil(t, fx.Applications.Apps[row.ApplicationID].ViewedAt)

	// Marking again is a no-op, not an error.
	require.NoError(t, s.MarkViewed(context.Background(), row.ApplicationID))
}

func TestMarkViewedPatchStandsOnFailure(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]
	fx.Applications.Errs["MarkViewed"] = assert.AnError

	s := newTestSync(t, fx)
	startSync(t, s, recruiterID)

	require.Error(t, s.MarkViewed(context.Background(), row.ApplicationID))

	got := s.Candidates()
	require.Len(t, got, 1)
	assert.NotNil(t, got[0].Candidate.ViewedAt, "viewed patch is kept; reconciliation settles it later")
}

func TestMutationsGateOnConnectivity(t *testing.T) {
	t.Parallel()

	fx := storetest.NewFixture(newTestClock().Now)
	recruiterID := uuid.New()
	row := seedRows(fx, recruiterID, 1)[0]

	conn := newStubConnectivity(true)
	s := newTestSync(t, fx, WithConnectivity(conn))
	startSync(t, s, recruiterID)

	conn.online.Store(false)

	_, err := s.Add(context.Background(), AddCandidateInput{ApplicantID: uuid.New(), ApplicationID: uuid.New()})
	require.ErrorIs(t, err, ErrOffline)
	_, err = s.AddBulk(context.Background(), []AddCandidateInput{{ApplicantID: uuid.New(), ApplicationID: uuid.New()}})
	require.ErrorIs(t, err, ErrOffline)
	require.ErrorIs(t, s.MoveStage(context.Background(), row.ID, "hired"), ErrOffline)
	require.ErrorIs(t, s.Remove(context.Background(), row.ID), ErrOffline)
	require.ErrorIs(t, s.UpdateRating(context.Background(), row.ID, 3), ErrOffline)
	require.ErrorIs(t, s.UpdateNotes(context.Background(), row.ID, "x"), ErrOffline)
	require.ErrorIs(t, s.MarkViewed(context.Background(), row.ApplicationID), ErrOffline)

	assert.Len(t, fx.Tracking.Rows, 1, "no store call may be issued while offline")
	assert.Equal(t, "to_contact", fx.Tracking.Rows[row.ID].Stage)
}

func TestMutationsRequireStart(t *testing.T) {
	t.Parallel()

	s := newTestSync(t, storetest.NewFixture(nil))

	_, err := s.Add(context.Background(), AddCandidateInput{ApplicantID: uuid.New(), ApplicationID: uuid.New()})
	require.ErrorIs(t, err, ErrNotStarted)
	require.ErrorIs(t, s.MoveStage(context.Background(), uuid.New(), "hired"), ErrNotStarted)
	require.ErrorIs(t, s.Remove(context.Background(), uuid.New()), ErrNotStarted)
}
