// Package analyzer defines the boundary to the transcript-analysis model and
// the completion-suggestion generator. The engine only sees the interfaces;
// analyzer output is validated and normalized here before it enters the
// reconciliation core.
package analyzer

import (
	"context"

	"actionline/internal/domain"
)

// Detail levels of an extraction run.
const (
	DetailLight    = "light"
	DetailMedium   = "medium"
	DetailDetailed = "detailed"
)

// Analysis carries the task trees an analyzer produced at each detail level.
type Analysis struct {
	Light    []domain.Task `json:"light"`
	Medium   []domain.Task `json:"medium"`
	Detailed []domain.Task `json:"detailed"`
}

// Level selects one extraction level, falling back to medium.
func (a Analysis) Level(detail string) []domain.Task {
	switch detail {
	case DetailLight:
		return a.Light
	case DetailDetailed:
		return a.Detailed
	default:
		return a.Medium
	}
}

// Analyzer extracts candidate action items from a raw transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript, detailLevel string) (Analysis, error)
}

// Suggester re-reads a transcript and reports tasks that appear completed.
// Each returned task carries the completion targets the detection resolves;
// an empty result is a legitimate outcome.
type Suggester interface {
	SuggestCompletions(ctx context.Context, userID, transcript string, matchThreshold float64) ([]domain.Task, error)
}
