// Package cli implements the forge command-line interface.
package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/forgelabs/forge/internal/analysis"
	"github.com/forgelabs/forge/internal/config"
	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/dispatch"
	"github.com/forgelabs/forge/internal/events"
	"github.com/forgelabs/forge/internal/executor"
	"github.com/forgelabs/forge/internal/notify"
	"github.com/forgelabs/forge/internal/project"
	"github.com/forgelabs/forge/internal/scheduler"
	"github.com/forgelabs/forge/internal/search"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <project-id>",
		Short: "Execute an approved plan",
		Long: `Execute the approved plan wave by wave.

Starts the scheduler and a worker pool, claims ready tasks into waves,
runs each through its agent with bounded retries, and finishes with a
quality check over the generated workspace. Blocks until the project
reaches a terminal phase or the process is interrupted; an interrupted
run continues with "forge resume".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWaves(cmd, args[0], false)
		},
	}
}

// newResumeCmd creates the resume command
func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <project-id>",
		Short: "Resume an interrupted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWaves(cmd, args[0], true)
		},
	}
}

func runWaves(cmd *cobra.Command, projectID string, resume bool) error {
	if err := requireInit(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Agents.Command == "" {
		return fmt.Errorf("no agent command configured. Set agents.command in the config")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	pub := events.NewPersistentPublisher(store, "cli", logger)
	defer pub.Close()

	recallClient := buildRecall(cfg, logger)
	defer func() { _ = recallClient.Close() }()

	registry := executor.NewRegistry()
	registry.SetFallback(executor.NewCommandExecutor(cfg.Agents.Command))
	supervisor := executor.NewSupervisor(registry, recallClient, logger)

	var searcher *search.Client
	if cfg.Search.Endpoint != "" {
		searcher = search.New(cfg.Search.Endpoint, cfg.Search.Timeout.Std(), logger)
	}
	analyzer := analysis.New()
	defer analyzer.Close()
	supervisor.Enrich = executor.NewEnricher(searcher, analyzer, logger)

	dispatcher := dispatch.NewDispatcher(store, pub, logger)
	coord := scheduler.New(store, dispatcher, pub, notify.NewLogNotifier(logger), cfg.Scheduler, logger)
	pool := dispatch.NewWorkerPool(store, supervisor, pub, cfg.Retry, coord.Resume, cfg.Scheduler.MaxConcurrent, logger)
	coord.Inflight = pool.Inflight

	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()

	g := &errgroup.Group{}
	g.Go(func() error { return pool.Run(poolCtx) })
	if err := waitForSubscriber(ctx, pub); err != nil {
		stopPool()
		_ = g.Wait()
		return err
	}

	fmt.Printf("🚀 Executing %s (max %d workers)\n", projectID, cfg.Scheduler.MaxConcurrent)

	// Tasks claimed by a previous run have no dispatch anymore; put them
	// back in the pending pool before the first wave.
	if err := coord.Recover(ctx, projectID); err != nil {
		stopPool()
		_ = g.Wait()
		return err
	}

	if resume {
		err = coord.Resume(ctx, projectID)
	} else {
		err = coord.Start(ctx, projectID)
	}
	if err == nil {
		err = waitForWaves(ctx, store, projectID)
	}

	// Let in-flight tasks finish before shutting down.
	stopPool()
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	if stderrors.Is(err, context.Canceled) {
		fmt.Printf("\nInterrupted; resume with: forge resume %s\n", projectID)
		return nil
	}
	if err != nil {
		return err
	}

	return finishRun(context.Background(), cfg, store, pub, projectID)
}

// waitForSubscriber blocks until the worker pool's subscription is live so
// the first wave's dispatches have a consumer.
func waitForSubscriber(ctx context.Context, pub *events.PersistentPublisher) error {
	deadline := time.After(5 * time.Second)
	for pub.SubscriberCount(events.GlobalProjectID) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("worker pool failed to start")
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// waitForWaves polls until the project leaves wave execution.
func waitForWaves(ctx context.Context, store *db.DB, projectID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		phase, err := store.ProjectPhase(ctx, projectID)
		if err != nil {
			return err
		}
		if phase != project.PhaseWaveExecution {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// finishRun runs the quality check when waves drained cleanly and reports
// the final project state.
func finishRun(ctx context.Context, cfg *config.Config, store *db.DB, pub *events.PersistentPublisher, projectID string) error {
	phase, err := store.ProjectPhase(ctx, projectID)
	if err != nil {
		return err
	}

	if phase == project.PhaseQualityCheck {
		pl, err := buildPipeline(cfg, store, pub, slog.Default())
		if err != nil {
			return err
		}
		if err := pl.RunQualityCheck(ctx, projectID, cfg.Agents.Workspace); err != nil {
			return err
		}
		phase, err = store.ProjectPhase(ctx, projectID)
		if err != nil {
			return err
		}
	}

	switch phase {
	case project.PhaseComplete:
		fmt.Printf("✅ Project %s complete\n", projectID)
		return nil
	case project.PhaseFailed:
		p, err := store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		return fmt.Errorf("project failed in %s: %s", p.FailedPhase, p.FailureMsg)
	default:
		fmt.Printf("Project %s stopped in phase %s; resume with: forge resume %s\n",
			projectID, phase, projectID)
		return nil
	}
}
