package pipeline

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hirewire/pipeline-server/internal/model"
)

// cursorSeparator delimits the timestamp and id components of an encoded
// cursor. The timestamp itself contains colons, so a pipe is used.
const cursorSeparator = "|"

// EncodeCursor encodes a pagination cursor into an opaque string suitable
// for query parameters. The format is base64(updatedAt|id).
func EncodeCursor(c *model.Cursor) string {
	if c == nil {
		return ""
	}
	raw := c.UpdatedAt.UTC().Format(time.RFC3339Nano) + cursorSeparator + c.ID.String()
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor decodes an opaque cursor string. An empty string decodes to
// a nil cursor (first page).
func DecodeCursor(s string) (*model.Cursor, error) {
	if s == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}

	parts := strings.SplitN(string(decoded), cursorSeparator, 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format: expected updatedAt%sid", cursorSeparator)
	}

	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid cursor id: %w", err)
	}

	return &model.Cursor{UpdatedAt: ts, ID: id}, nil
}
