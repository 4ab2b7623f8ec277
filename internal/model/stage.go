package model

// Stage is one entry of a recruiter's ordered stage configuration. Stage
// keys are open strings: recruiters may define custom stages beyond the
// built-in vocabulary.
type Stage struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Position int    `json:"position"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// StageUnassigned is the bucket that collects candidates whose stage key is
// no longer present in the recruiter's configuration. Such candidates are
// surfaced explicitly rather than silently dropped.
const StageUnassigned = "unassigned"

// BuiltinStages is the default stage configuration seeded for recruiters
// who have not customized their pipeline.
func BuiltinStages() []Stage {
	return []Stage{
		{Key: "to_contact", Label: "To contact", Position: 0},
		{Key: "contacted", Label: "Contacted", Position: 1},
		{Key: "interview", Label: "Interview", Position: 2},
		{Key: "hired", Label: "Hired", Position: 3},
	}
}

// FirstActiveStage returns the first non-deleted stage of a configuration,
// the landing stage for newly added candidates. The boolean is false when
// every configured stage has been deleted.
func FirstActiveStage(stages []Stage) (Stage, bool) {
	for _, s := range stages {
		if !s.Deleted {
			return s, true
		}
	}
	return Stage{}, false
}
