package pipeline

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/pipeline-server/internal/model"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	orig := &model.Cursor{
		UpdatedAt: time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC),
		ID:        uuid.New(),
	}

	encoded := EncodeCursor(orig)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.True(t, orig.UpdatedAt.Equal(decoded.UpdatedAt))
	assert.Equal(t, orig.ID, decoded.ID)
}

func TestEncodeCursorNil(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", EncodeCursor(nil))
}

func TestDecodeCursorEmpty(t *testing.T) {
	t.Parallel()

	c, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecodeCursorErrors(t *testing.T) {
	t.Parallel()

	encode := func(raw string) string {
		return base64.StdEncoding.EncodeToString([]byte(raw))
	}

	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "not base64",
			input: "%%%not-base64%%%",
		},
		{
			name:  "missing separator",
			input: encode("2025-03-14T09:26:53Z"),
		},
		{
			name:  "bad timestamp",
			input: encode("yesterday|" + uuid.New().String()),
		},
		{
			name:  "bad id",
			input: encode("2025-03-14T09:26:53Z|not-a-uuid"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := DecodeCursor(tt.input)
			require.Error(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestCursorNormalizesToUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+2", 2*60*60)
	orig := &model.Cursor{
		UpdatedAt: time.Date(2025, 3, 14, 11, 0, 0, 0, loc),
		ID:        uuid.New(),
	}

	decoded, err := DecodeCursor(EncodeCursor(orig))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, decoded.UpdatedAt.Location())
	assert.True(t, orig.UpdatedAt.Equal(decoded.UpdatedAt))
}
