package model

// Bucket is one kanban column: a configured stage and the loaded
// candidates currently in it.
type Bucket struct {
	Stage      Stage              `json:"stage"`
	Candidates []TrackedCandidate `json:"candidates"`
}

// Board is the grouped projection of the loaded candidate list. Buckets
// follow the stage configuration order; a trailing unassigned bucket is
// present only when some candidate references a deleted or unknown stage.
type Board struct {
	Buckets []Bucket `json:"buckets"`
	Total   int      `json:"total"`
}

// Stats holds per-stage counts over the currently loaded candidates.
type Stats struct {
	PerStage map[string]int `json:"per_stage"`
	Total    int            `json:"total"`
}
