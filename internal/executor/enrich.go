package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgelabs/forge/internal/analysis"
	"github.com/forgelabs/forge/internal/search"
)

const (
	enrichTimeout    = 10 * time.Second
	maxSearchHints   = 3
	maxAnalysisHints = 5
)

// EnrichFunc produces context hints for the attempt following a business
// failure. result is the failed attempt's partial output and may be nil.
type EnrichFunc func(ctx context.Context, input TaskInput, result *Result, execErr error) []string

// NewEnricher builds the standard enrichment hook: the solution-search
// collaborator is asked about the failure and the static analyzer checks any
// partial files. Both are best-effort; either collaborator may be nil.
func NewEnricher(searcher *search.Client, analyzer *analysis.Analyzer, logger *slog.Logger) EnrichFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, input TaskInput, result *Result, execErr error) []string {
		ctx, cancel := context.WithTimeout(ctx, enrichTimeout)
		defer cancel()

		var hints []string

		if searcher != nil {
			query := input.Title + " " + execErr.Error()
			if len(query) > 200 {
				query = query[:200]
			}
			results, err := searcher.Search(ctx, query, maxSearchHints)
			if err != nil {
				logger.Debug("solution search failed", "task", input.TaskKey, "error", err)
			}
			for _, r := range results {
				hints = append(hints, fmt.Sprintf("possible solution: %s (%s)", r.Title, r.URL))
			}
		}

		if analyzer != nil && result != nil {
			count := 0
			for path, content := range result.Files {
				if count >= maxAnalysisHints || !analyzer.Supports(path) {
					continue
				}
				issues, err := analyzer.Check(ctx, path, []byte(content))
				if err != nil {
					continue
				}
				for _, issue := range issues {
					if count >= maxAnalysisHints {
						break
					}
					hints = append(hints, "syntax issue: "+issue.String())
					count++
				}
			}
		}

		return hints
	}
}
