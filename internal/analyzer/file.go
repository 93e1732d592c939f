package analyzer

import (
	"context"
	"os"

	"actionline/internal/domain"
)

// FileAnalyzer serves a captured analysis JSON document from disk. Used by
// the CLI to replay analyzer output without calling the model.
type FileAnalyzer struct {
	Path string
}

func (f FileAnalyzer) Analyze(ctx context.Context, transcript, detailLevel string) (Analysis, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Analysis{}, err
	}
	return DecodeAnalysis(data)
}

// FileSuggester serves captured completion-suggestion output from disk.
type FileSuggester struct {
	Path string
}

func (f FileSuggester) SuggestCompletions(ctx context.Context, userID, transcript string, matchThreshold float64) ([]domain.Task, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	return DecodeTasks(data)
}
