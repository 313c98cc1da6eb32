package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forgelabs/forge/internal/analysis"
	"github.com/forgelabs/forge/internal/errors"
	"github.com/forgelabs/forge/internal/events"
	"github.com/forgelabs/forge/internal/project"
)

// maxQualityIssues bounds how many issues the failure message carries.
const maxQualityIssues = 20

// RunQualityCheck verifies the finished project: every task must have
// completed and the generated artifacts in workspace must parse cleanly.
// A clean check moves the project to complete; anything else records a
// failure with the findings.
func (pl *Pipeline) RunQualityCheck(ctx context.Context, projectID, workspace string) error {
	phase, err := pl.store.ProjectPhase(ctx, projectID)
	if err != nil {
		return err
	}
	if phase != project.PhaseQualityCheck {
		return errors.ErrProjectInvalidPhase(projectID,
			string(phase), string(project.PhaseQualityCheck))
	}

	var findings []string

	failed, err := pl.store.FailedTaskKeys(ctx, projectID)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		keys := make([]string, 0, len(failed))
		for k := range failed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		findings = append(findings,
			fmt.Sprintf("%d task(s) failed: %s", len(keys), strings.Join(keys, ", ")))
	}

	issues, err := pl.analyzeWorkspace(ctx, workspace)
	if err != nil {
		return err
	}
	for i, issue := range issues {
		if i == maxQualityIssues {
			findings = append(findings, fmt.Sprintf("... and %d more issues", len(issues)-maxQualityIssues))
			break
		}
		findings = append(findings, issue.String())
	}

	if len(findings) > 0 {
		msg := strings.Join(findings, "; ")
		pl.logger.Warn("quality check failed", "project", projectID, "findings", len(findings))
		if err := pl.store.MarkProjectFailed(ctx, projectID, project.PhaseQualityCheck, msg); err != nil {
			return err
		}
		pl.publisher.Publish(events.NewEvent(events.EventProjectFailed, projectID, "", msg))
		pl.notifier.Notify(ctx, projectID, "quality check failed", msg)
		return nil
	}

	if err := pl.store.SetProjectPhase(ctx, projectID, project.PhaseComplete); err != nil {
		return err
	}
	pl.logger.Info("project complete", "project", projectID)
	pl.publisher.Publish(events.NewEvent(events.EventProjectCompleted, projectID, "", nil))
	pl.notifier.Notify(ctx, projectID, "project complete",
		"all tasks finished and generated code passed static checks")
	return nil
}

// analyzeWorkspace runs the static analyzer over every supported file
// under root. A missing workspace yields no issues.
func (pl *Pipeline) analyzeWorkspace(ctx context.Context, root string) ([]analysis.Issue, error) {
	if root == "" {
		return nil, nil
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	analyzer := analysis.New()
	defer analyzer.Close()

	var issues []analysis.Issue
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if !analyzer.Supports(path) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		found, err := analyzer.Check(ctx, rel, content)
		if err != nil {
			return err
		}
		issues = append(issues, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analyze workspace: %w", err)
	}
	return issues, nil
}
