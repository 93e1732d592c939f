package engine

import (
	"actionline/internal/domain"
)

// MergeTasks folds newly extracted tasks into an existing task tree without
// duplicating items the user already has. Identity is checked twice: exact
// match keys collected over the whole existing tree (subtasks included), then
// fuzzy token overlap against every task already accepted, existing ones and
// ones admitted earlier in this call, so an incoming batch cannot introduce
// its own internal duplicates.
//
// Idempotent: merging the same batch into the result of a previous merge adds
// zero tasks.
func MergeTasks(existing, incoming []domain.Task, overlapThreshold float64) ([]domain.Task, int) {
	seenKeys := map[string]bool{}
	var seenTokens []map[string]bool
	domain.WalkTasks(existing, func(t domain.Task) {
		if key := MatchKey(t); key != "" {
			seenKeys[key] = true
		}
		if set := tokenSet(t); len(set) > 0 {
			seenTokens = append(seenTokens, set)
		}
	})

	merged := existing
	added := 0
	for _, task := range incoming {
		// Items the analyzer itself reports as finished are not imported.
		if task.Status == domain.StatusDone {
			continue
		}
		key := MatchKey(task)
		if key == "" || seenKeys[key] {
			continue
		}
		set := tokenSet(task)
		if tooSimilar(set, seenTokens, overlapThreshold) {
			continue
		}
		merged = append(merged, task)
		added++
		seenKeys[key] = true
		if len(set) > 0 {
			seenTokens = append(seenTokens, set)
		}
	}
	return merged, added
}

func tooSimilar(set map[string]bool, accepted []map[string]bool, threshold float64) bool {
	for _, other := range accepted {
		if overlapScore(set, other) >= threshold {
			return true
		}
	}
	return false
}
