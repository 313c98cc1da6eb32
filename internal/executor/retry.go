package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/forgelabs/forge/internal/config"
	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/errors"
	"github.com/forgelabs/forge/internal/recall"
)

// Backoff constants. Delay for attempt k is
// min(baseDelay * 2^(k-1) + jitter, maxDelay) with jitter in [0, jitterRange).
const (
	baseDelay   = 2 * time.Second
	maxDelay    = 30 * time.Second
	jitterRange = time.Second
)

// RetryConfig is the per-task retry budget.
type RetryConfig struct {
	// MaxIterations bounds total attempts, including the first.
	MaxIterations int
	// MaxDuration bounds wall time across all attempts. Zero means no bound.
	MaxDuration time.Duration
	// MaxCostDollars bounds cumulative attempt cost. Zero means no bound.
	MaxCostDollars float64
}

// DeriveRetryConfig sizes the budget from configuration and the task's
// complexity. Medium tasks get double the wall time of simple ones.
func DeriveRetryConfig(t *db.AgentTask, cfg config.RetryConfig) RetryConfig {
	duration := cfg.GenerationTimeout.Std()
	if t.Complexity != "simple" {
		duration *= 2
	}
	return RetryConfig{
		MaxIterations:  cfg.MaxIterations,
		MaxDuration:    duration,
		MaxCostDollars: cfg.MaxCostDollars,
	}
}

// Outcome is the supervisor's verdict on a task.
type Outcome struct {
	Completed      bool
	Output         string
	Files          map[string]string
	Iterations     int
	CostDollars    float64
	ErrMsg         string
	Recommendation string
}

// Supervisor drives a task through bounded retries, consulting recall for
// context and recording outcomes back into it.
type Supervisor struct {
	registry *Registry
	recall   recall.Client
	logger   *slog.Logger

	// OnRetry is called before each retry attempt (attempt >= 2); used to
	// surface task_retrying events. May be nil.
	OnRetry func(task *db.AgentTask, attempt int, lastErr error)

	// Enrich gathers extra context after a business failure before the next
	// attempt. May be nil.
	Enrich EnrichFunc

	// sleep and jitter are injection points for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewSupervisor creates a retry supervisor.
func NewSupervisor(registry *Registry, recallClient recall.Client, logger *slog.Logger) *Supervisor {
	if recallClient == nil {
		recallClient = recall.NewNopClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		registry: registry,
		recall:   recallClient,
		logger:   logger,
		sleep:    sleepCtx,
		jitter:   func() time.Duration { return time.Duration(rand.Int63n(int64(jitterRange))) },
	}
}

// Run executes the task until it succeeds or its budget is exhausted. The
// returned Outcome is always usable; the error mirrors Outcome.Completed ==
// false and carries the budget or fatal cause.
func (s *Supervisor) Run(ctx context.Context, task *db.AgentTask, cfg RetryConfig) (*Outcome, error) {
	exec, err := s.registry.Lookup(task.AgentName)
	if err != nil {
		return &Outcome{ErrMsg: err.Error()}, err
	}

	input, err := buildInput(task)
	if err != nil {
		return &Outcome{ErrMsg: err.Error()}, err
	}
	input.RecallContext = s.recall.RelevantContext(ctx, task.AgentName, input.Title+" "+input.Description)

	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if cfg.MaxDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.MaxDuration)
	}
	defer cancel()

	outcome := &Outcome{}
	var attempts []attemptFailure
	var fatalErr error

	for attempt := 1; attempt <= cfg.MaxIterations; attempt++ {
		if err := runCtx.Err(); err != nil {
			break
		}

		input.Attempt = attempt
		outcome.Iterations = attempt

		result, execErr := exec.Execute(runCtx, input)
		if result != nil {
			outcome.CostDollars += result.CostDollars
		}
		if execErr == nil {
			outcome.Completed = true
			outcome.Output = result.Output
			outcome.Files = result.Files
			s.remember(task, input, "completed", "", result.Output)
			return outcome, nil
		}

		class := Classify(execErr)
		attempts = append(attempts, attemptFailure{
			Attempt: attempt,
			Class:   class,
			Err:     execErr,
		})
		s.logger.Warn("task attempt failed",
			"task", task.TaskKey,
			"attempt", attempt,
			"max_attempts", cfg.MaxIterations,
			"class", class.String(),
			"error", execErr,
		)

		if class == ClassFatal {
			fatalErr = execErr
			break
		}
		if cfg.MaxCostDollars > 0 && outcome.CostDollars >= cfg.MaxCostDollars {
			s.logger.Warn("task cost budget exhausted",
				"task", task.TaskKey, "cost", outcome.CostDollars)
			break
		}
		if attempt == cfg.MaxIterations {
			break
		}

		// Feed the failure back so the next attempt can correct course.
		input.PriorErrors = append(input.PriorErrors, execErr.Error())
		if class == ClassBusiness && s.Enrich != nil {
			input.PriorErrors = append(input.PriorErrors, s.Enrich(runCtx, input, result, execErr)...)
		}

		if s.OnRetry != nil {
			s.OnRetry(task, attempt+1, execErr)
		}

		if class == ClassTransient {
			if err := s.sleep(runCtx, s.backoff(attempt)); err != nil {
				break
			}
		}
	}

	summary := buildRecovery(task, attempts)
	outcome.ErrMsg = summary.ErrMsg
	outcome.Recommendation = summary.Recommendation
	s.remember(task, input, "failed", outcome.ErrMsg, "")

	if fatalErr != nil {
		return outcome, errors.ErrExecutorFatal(task.TaskKey, fatalErr.Error())
	}
	return outcome, errors.ErrBudgetExhausted(task.TaskKey, outcome.Iterations)
}

// backoff returns the delay before the attempt following attempt k.
func (s *Supervisor) backoff(attempt int) time.Duration {
	delay := baseDelay << (attempt - 1)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	delay += s.jitter()
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func (s *Supervisor) remember(task *db.AgentTask, input TaskInput, outcome, errMsg, output string) {
	summary := output
	if len(summary) > 300 {
		summary = summary[:300]
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.recall.Store(ctx, recall.Record{
		ProjectID: task.ProjectID,
		TaskKey:   task.TaskKey,
		AgentName: task.AgentName,
		Title:     input.Title,
		Outcome:   outcome,
		Error:     errMsg,
		Summary:   summary,
	})
}

// buildInput reconstructs the executor input from the task's stored plan
// snapshot.
func buildInput(task *db.AgentTask) (TaskInput, error) {
	input := TaskInput{
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		TaskKey:   task.TaskKey,
		AgentName: task.AgentName,
	}
	if task.Input == "" {
		return input, fmt.Errorf("task %s has no stored input", task.TaskKey)
	}
	var at struct {
		Title              string   `json:"title"`
		Description        string   `json:"description"`
		AcceptanceCriteria []string `json:"acceptance_criteria"`
	}
	if err := json.Unmarshal([]byte(task.Input), &at); err != nil {
		return input, fmt.Errorf("unmarshal task input for %s: %w", task.TaskKey, err)
	}
	input.Title = at.Title
	input.Description = at.Description
	input.Criteria = at.AcceptanceCriteria
	return input, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
