package pipeline

import (
	"context"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

// Stage is one step of the fixed discovery pipeline.
type Stage interface {
	Name() model.StepID
	Run(ctx context.Context, in State) (State, error)
}

// Annotator attaches a note to a running step without changing its status.
type Annotator interface {
	StepAnnotate(ctx context.Context, runID string, step model.StepID, msg string) error
}

// stepTotals returns the count and totals delta recorded when step finishes.
func stepTotals(step model.StepID, s State) (*int, *model.Totals) {
	switch step {
	case model.StepFinder:
		n := len(s.URLs)
		return &n, &model.Totals{URLsFound: model.IntPtr(n)}
	case model.StepCrawler:
		n := len(s.Pages)
		return &n, &model.Totals{Crawled: model.IntPtr(n)}
	case model.StepExtractor:
		n := len(s.Candidates)
		return &n, &model.Totals{Extracted: model.IntPtr(n)}
	case model.StepNormalizer:
		n := len(s.Candidates)
		return &n, &model.Totals{Normalized: model.IntPtr(n)}
	case model.StepEnricher:
		n := s.Enriched
		return &n, &model.Totals{Enriched: model.IntPtr(n)}
	case model.StepWriter:
		n := s.Added
		return &n, &model.Totals{Added: model.IntPtr(n)}
	}
	return nil, nil
}
