package cache

import (
	"sort"

	"github.com/hirewire/pipeline-server/internal/model"
)

// GroupByStage projects the flattened candidate list into board buckets.
// Buckets follow the stage configuration order (deleted stages excluded);
// candidates whose stage key is unknown or deleted land in a trailing
// unassigned bucket. Pure and O(n); recomputed on every read.
func GroupByStage(items []model.TrackedCandidate, stages []model.Stage) model.Board {
	ordered := make([]model.Stage, 0, len(stages))
	for _, s := range stages {
		if !s.Deleted {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	index := make(map[string]int, len(ordered))
	buckets := make([]model.Bucket, len(ordered))
	for i, s := range ordered {
		index[s.Key] = i
		buckets[i] = model.Bucket{Stage: s}
	}

	var unassigned []model.TrackedCandidate
	for _, it := range items {
		if i, ok := index[it.Stage]; ok {
			buckets[i].Candidates = append(buckets[i].Candidates, it)
			continue
		}
		unassigned = append(unassigned, it)
	}

	board := model.Board{Buckets: buckets, Total: len(items)}
	if len(unassigned) > 0 {
		board.Buckets = append(board.Buckets, model.Bucket{
			Stage:      model.Stage{Key: model.StageUnassigned, Label: "Unassigned", Position: len(ordered)},
			Candidates: unassigned,
		})
	}
	return board
}

// ComputeStats counts loaded candidates per stage key, with unknown keys
// accumulated under the unassigned bucket.
func ComputeStats(items []model.TrackedCandidate, stages []model.Stage) model.Stats {
	known := make(map[string]bool, len(stages))
	per := make(map[string]int, len(stages)+1)
	for _, s := range stages {
		if !s.Deleted {
			known[s.Key] = true
			per[s.Key] = 0
		}
	}
	for _, it := range items {
		if known[it.Stage] {
			per[it.Stage]++
		} else {
			per[model.StageUnassigned]++
		}
	}
	return model.Stats{PerStage: per, Total: len(items)}
}
