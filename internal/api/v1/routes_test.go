package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/pipeline-server/internal/model"
	"github.com/hirewire/pipeline-server/internal/pipeline"
	"github.com/hirewire/pipeline-server/internal/store"
	"github.com/hirewire/pipeline-server/internal/store/storetest"
)

type toggleConnectivity struct {
	online atomic.Bool
}

func (c *toggleConnectivity) Online() bool { return c.online.Load() }

type testEnv struct {
	fx          *storetest.Fixture
	sync        *pipeline.Synchronizer
	conn        *toggleConnectivity
	recruiterID uuid.UUID
	server      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fx := storetest.NewFixture(nil)
	conn := &toggleConnectivity{}
	conn.online.Store(true)

	sync, err := pipeline.New(
		pipeline.WithStores(fx.Stores()),
		pipeline.WithResyncInterval(0),
		pipeline.WithPrefetchDisabled(),
		pipeline.WithConnectivity(conn),
	)
	require.NoError(t, err)

	recruiterID := uuid.New()
	require.NoError(t, sync.Start(context.Background(), recruiterID))
	t.Cleanup(sync.Close)

	server := httptest.NewServer(Router(sync))
	t.Cleanup(server.Close)

	return &testEnv{fx: fx, sync: sync, conn: conn, recruiterID: recruiterID, server: server}
}

func (e *testEnv) seed(stage string, updatedAt time.Time) store.TrackingRow {
	row := store.TrackingRow{
		ID:            uuid.New(),
		RecruiterID:   e.recruiterID,
		ApplicantID:   uuid.New(),
		ApplicationID: uuid.New(),
		Stage:         stage,
		UpdatedAt:     updatedAt,
		CreatedAt:     updatedAt,
	}
	e.fx.Tracking.Seed(row)
	return row
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestGetBoard(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed("to_contact", time.Now().UTC())
	env.seed("hired", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	board := decode[BoardResponse](t, resp)
	assert.Equal(t, 2, board.Total)
	assert.Equal(t, model.BuiltinStages(), board.Stages)
	require.NotEmpty(t, board.Buckets)
}

func TestGetStages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/stages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stages := decode[[]model.Stage](t, resp)
	assert.Equal(t, model.BuiltinStages(), stages)
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed("hired", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decode[model.Stats](t, resp)
	assert.Equal(t, 1, stats.Total)
}

func TestListCandidates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed("to_contact", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodGet, "/candidates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[CandidateListResponse](t, resp)
	assert.Len(t, list.Candidates, 1)
	assert.Empty(t, list.NextCursor, "single short page has no continuation")
}

func TestListCandidatesPagination(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	total := model.PageSize + 5
	for i := 0; i < total; i++ {
		env.seed("to_contact", base.Add(time.Duration(i)*time.Second))
	}
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodGet, "/candidates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[CandidateListResponse](t, resp)
	require.Len(t, first.Candidates, model.PageSize)
	require.NotEmpty(t, first.NextCursor)

	resp = env.do(t, http.MethodGet, "/candidates?cursor="+first.NextCursor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[CandidateListResponse](t, resp)
	assert.Len(t, second.Candidates, total)
	assert.Empty(t, second.NextCursor)

	// A replay of the consumed cursor conflicts instead of double-fetching.
	resp = env.do(t, http.MethodGet, "/candidates?cursor="+first.NextCursor, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListCandidatesStaleCursor(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < model.PageSize+5; i++ {
		env.seed("to_contact", base.Add(time.Duration(i)*time.Second))
	}
	require.NoError(t, env.sync.Refresh(context.Background()))

	bogus := pipeline.EncodeCursor(&model.Cursor{UpdatedAt: base, ID: uuid.New()})
	resp := env.do(t, http.MethodGet, "/candidates?cursor="+bogus, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	errResp := decode[ErrorResponse](t, resp)
	assert.Equal(t, "stale cursor", errResp.Error)
}

func TestListCandidatesSearch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rows := make([]store.TrackingRow, 3)
	for i := range rows {
		rows[i] = env.seed("to_contact", time.Now().UTC())
	}
	env.fx.Search.SearchFunc = func(_ context.Context, _ uuid.UUID, query string, _ *model.Cursor) ([]uuid.UUID, error) {
		if query == "ada" {
			return []uuid.UUID{rows[1].ID}, nil
		}
		return nil, nil
	}
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodGet, "/candidates?search=ada", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[CandidateListResponse](t, resp)
	require.Len(t, list.Candidates, 1)
	assert.Equal(t, rows[1].ID, list.Candidates[0].ID)
}

func TestAddCandidate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/candidates", AddCandidateRequest{
		ApplicantID:   uuid.New(),
		ApplicationID: uuid.New(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	added := decode[model.TrackedCandidate](t, resp)
	assert.Equal(t, "to_contact", added.Stage)
	assert.Len(t, env.fx.Tracking.Rows, 1)
}

func TestAddCandidateDuplicate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	row := env.seed("to_contact", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodPost, "/candidates", AddCandidateRequest{
		ApplicantID:   row.ApplicantID,
		ApplicationID: row.ApplicationID,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAddCandidateValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/candidates", AddCandidateRequest{
		ApplicantID: uuid.New(),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddCandidatesBulk(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	existing := env.seed("to_contact", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodPost, "/candidates", BulkAddRequest{
		Candidates: []AddCandidateRequest{
			{ApplicantID: existing.ApplicantID, ApplicationID: existing.ApplicationID},
			{ApplicantID: uuid.New(), ApplicationID: uuid.New()},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[BulkAddResponse](t, resp)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.AlreadyExisted)
}

func TestRemoveCandidate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	row := env.seed("to_contact", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodDelete, "/candidates/"+row.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/candidates/"+row.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemoveCandidateInvalidID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp := env.do(t, http.MethodDelete, "/candidates/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	row := env.seed("to_contact", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodPatch,
		fmt.Sprintf("/candidates/%s/stage", row.ID), UpdateStageRequest{Stage: "interview"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "interview", env.fx.Tracking.Rows[row.ID].Stage)
}

func TestUpdateStageRequiresStage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	row := env.seed("to_contact", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodPatch,
		fmt.Sprintf("/candidates/%s/stage", row.ID), UpdateStageRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateRating(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	row := env.seed("to_contact", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodPatch,
		fmt.Sprintf("/candidates/%s/rating", row.ID), UpdateRatingRequest{Rating: 4})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 4, env.fx.Tracking.Rows[row.ID].Rating)

	resp = env.do(t, http.MethodPatch,
		fmt.Sprintf("/candidates/%s/rating", row.ID), UpdateRatingRequest{Rating: 6})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateNotes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	row := env.seed("to_contact", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodPatch,
		fmt.Sprintf("/candidates/%s/notes", row.ID), UpdateNotesRequest{Notes: "follow up"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	got := env.fx.Tracking.Rows[row.ID]
	require.NotNil(t, got.Notes)
	assert.Equal(t, "follow up", *got.Notes)
}

func TestMarkViewed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	row := env.seed("to_contact", time.Now().UTC())
	env.fx.Applications.Apps[row.ApplicationID] = store.Application{
		ID:          row.ApplicationID,
		ApplicantID: row.ApplicantID,
	}
	require.NoError(t, env.sync.Refresh(context.Background()))

	resp := env.do(t, http.MethodPost,
		fmt.Sprintf("/applications/%s/viewed", row.ApplicationID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotNil(t, env.fx.Applications.Apps[row.ApplicationID].ViewedAt)
}

func TestMutationsWhileOffline(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	row := env.seed("to_contact", time.Now().UTC())
	require.NoError(t, env.sync.Refresh(context.Background()))

	env.conn.online.Store(false)

	resp := env.do(t, http.MethodPost, "/candidates", AddCandidateRequest{
		ApplicantID:   uuid.New(),
		ApplicationID: uuid.New(),
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = env.do(t, http.MethodPatch,
		fmt.Sprintf("/candidates/%s/stage", row.ID), UpdateStageRequest{Stage: "hired"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	health := httptest.NewServer(HealthRouter(env.sync))
	t.Cleanup(health.Close)

	resp, err := http.Get(health.URL + "/health")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ready, err := http.Get(health.URL + "/readiness")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ready.Body.Close() })
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	env.conn.online.Store(false)
	notReady, err := http.Get(health.URL + "/readiness")
	require.NoError(t, err)
	t.Cleanup(func() { _ = notReady.Body.Close() })
	assert.Equal(t, http.StatusServiceUnavailable, notReady.StatusCode)
}
