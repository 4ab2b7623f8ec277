package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCursorFor(t *testing.T) {
	t.Parallel()

	makeItems := func(n int) []TrackedCandidate {
		items := make([]TrackedCandidate, n)
		for i := range items {
			items[i] = TrackedCandidate{
				ID:        uuid.New(),
				UpdatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Second),
			}
		}
		return items
	}

	t.Run("short page exhausts pagination", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, NextCursorFor(makeItems(PageSize-1)))
		assert.Nil(t, NextCursorFor(nil))
	})

	t.Run("full page continues from the last row", func(t *testing.T) {
		t.Parallel()
		items := makeItems(PageSize)
		c := NextCursorFor(items)
		require.NotNil(t, c)
		last := items[len(items)-1]
		assert.Equal(t, last.ID, c.ID)
		assert.True(t, last.UpdatedAt.Equal(c.UpdatedAt))
	})
}

func TestTrackedCandidateCloneIsDeep(t *testing.T) {
	t.Parallel()

	notes := "call back"
	jobID := uuid.New()
	viewed := time.Now().UTC()
	orig := TrackedCandidate{
		ID:    uuid.New(),
		JobID: &jobID,
		Notes: &notes,
		Candidate: CandidateDetails{
			Answers:  map[string]string{"start": "asap"},
			ViewedAt: &viewed,
		},
	}

	clone := orig.Clone()
	*clone.Notes = "changed"
	clone.Candidate.Answers["start"] = "later"
	*clone.Candidate.ViewedAt = viewed.Add(time.Hour)

	assert.Equal(t, "call back", *orig.Notes)
	assert.Equal(t, "asap", orig.Candidate.Answers["start"])
	assert.True(t, viewed.Equal(*orig.Candidate.ViewedAt))
}

func TestFirstActiveStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stages  []Stage
		wantKey string
		wantOK  bool
	}{
		{
			name:    "builtin vocabulary",
			stages:  BuiltinStages(),
			wantKey: "to_contact",
			wantOK:  true,
		},
		{
			name: "first stage deleted",
			stages: []Stage{
				{Key: "a", Deleted: true},
				{Key: "b"},
			},
			wantKey: "b",
			wantOK:  true,
		},
		{
			name: "all deleted",
			stages: []Stage{
				{Key: "a", Deleted: true},
			},
			wantOK: false,
		},
		{
			name:   "empty configuration",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := FirstActiveStage(tt.stages)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantKey, got.Key)
			}
		})
	}
}
