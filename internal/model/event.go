package model

import "encoding/json"

// Change-feed operation kinds.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Tables observed by the realtime reconciler.
const (
	TableTracking     = "tracked_candidates"
	TableProfiles     = "applicant_profiles"
	TableApplications = "applications"
	TableRatings      = "candidate_ratings"
	TableNotes        = "candidate_notes"
)

// ChangeEvent is one row-level change delivered by a backend change feed.
// Before and After carry the raw row payloads; consumers shape-test them
// rather than decoding into fixed structs, since feeds are scoped broadly
// and most events are irrelevant to a given subscriber.
type ChangeEvent struct {
	Table  string          `json:"table"`
	Op     string          `json:"op"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}
