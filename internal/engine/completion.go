package engine

import (
	"actionline/internal/domain"
)

// CompletionUpdate is one pending change for a task: either an auto-confirmed
// completion (Suggested=false, status flips to done) or a flag for human
// review (Suggested=true, status untouched).
type CompletionUpdate struct {
	Suggested  bool
	Confidence *float64
	Evidence   string
	Targets    []domain.CompletionTarget
}

// BuildCompletionUpdateMap collapses a batch of completion-suggestion
// candidates into one update per target task id. When several candidates name
// the same task the highest confidence wins; equal confidence keeps the
// most-recently-seen candidate. With autoApprove off every update is a flag;
// with it on, low-confidence hits (below matchThreshold) still require review.
func BuildCompletionUpdateMap(candidates []domain.Task, autoApprove bool, matchThreshold float64) map[string]CompletionUpdate {
	updates := map[string]CompletionUpdate{}
	for _, cand := range candidates {
		if len(cand.CompletionTargets) == 0 {
			continue
		}
		suggested := true
		if autoApprove {
			suggested = confidenceOf(cand) < matchThreshold
		}
		update := CompletionUpdate{
			Suggested:  suggested,
			Confidence: cand.CompletionConfidence,
			Evidence:   cand.CompletionEvidence,
			Targets:    cand.CompletionTargets,
		}
		for _, target := range cand.CompletionTargets {
			if prev, ok := updates[target.TaskID]; ok && confidenceValue(prev.Confidence) > confidenceOf(cand) {
				continue
			}
			updates[target.TaskID] = update
		}
	}
	return updates
}

func confidenceOf(t domain.Task) float64 {
	return confidenceValue(t.CompletionConfidence)
}

func confidenceValue(c *float64) float64 {
	if c == nil {
		return 0
	}
	return *c
}

// ApplyCompletionUpdates walks a task tree depth-first (subtasks before the
// node itself) and applies the matching updates. A task already done with
// CompletionSuggested=false is a confirmed completion and is terminal: no
// update ever touches it again. Applied task ids are recorded in appliedIDs,
// which the caller threads through an entire reconciliation run.
func ApplyCompletionUpdates(tasks []domain.Task, updates map[string]CompletionUpdate, appliedIDs map[string]bool) ([]domain.Task, bool) {
	if len(updates) == 0 {
		return tasks, false
	}
	result, changed := applyToBranch(tasks, updates, appliedIDs)
	if !changed {
		return tasks, false
	}
	return result, true
}

// applyToBranch returns the rebuilt branch and whether anything in it changed.
// Unchanged branches are returned as-is rather than compared by identity.
func applyToBranch(tasks []domain.Task, updates map[string]CompletionUpdate, appliedIDs map[string]bool) ([]domain.Task, bool) {
	changed := false
	result := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		subtasks, subChanged := applyToBranch(t.Subtasks, updates, appliedIDs)
		node := t
		node.Subtasks = subtasks
		nodeChanged := subChanged

		if update, ok := updates[t.ID]; ok && !isConfirmedDone(t) {
			if !update.Suggested {
				node.Status = domain.StatusDone
			}
			node.CompletionSuggested = update.Suggested
			node.CompletionConfidence = update.Confidence
			node.CompletionEvidence = update.Evidence
			node.CompletionTargets = update.Targets
			if appliedIDs != nil {
				appliedIDs[t.ID] = true
			}
			nodeChanged = true
		}

		result[i] = node
		changed = changed || nodeChanged
	}
	return result, changed
}

// isConfirmedDone reports whether a completion has been finalized, either by
// the reconciler auto-approving or by the user. Confirmed completions are
// never overwritten.
func isConfirmedDone(t domain.Task) bool {
	return t.Status == domain.StatusDone && !t.CompletionSuggested
}
