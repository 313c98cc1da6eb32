package executor

import (
	"fmt"
	"strings"

	"github.com/forgelabs/forge/internal/db"
)

// attemptFailure records one failed attempt for the recovery summary.
type attemptFailure struct {
	Attempt int
	Class   ErrorClass
	Err     error
}

// recoverySummary is what gets persisted on a permanently failed task.
type recoverySummary struct {
	ErrMsg         string
	Recommendation string
}

// buildRecovery condenses the attempt history into an error message and a
// next-step recommendation for the operator.
func buildRecovery(task *db.AgentTask, attempts []attemptFailure) recoverySummary {
	if len(attempts) == 0 {
		return recoverySummary{
			ErrMsg:         "task ended without any completed attempt",
			Recommendation: "check the scheduler logs and re-run 'forge resume'",
		}
	}

	last := attempts[len(attempts)-1]

	var b strings.Builder
	fmt.Fprintf(&b, "failed after %d attempt(s); last error: %s",
		len(attempts), truncate(last.Err.Error(), 200))
	if len(attempts) > 1 {
		b.WriteString(" [history:")
		for _, a := range attempts[:len(attempts)-1] {
			fmt.Fprintf(&b, " #%d %s: %s;", a.Attempt, a.Class, truncate(a.Err.Error(), 80))
		}
		b.WriteString("]")
	}

	return recoverySummary{
		ErrMsg:         b.String(),
		Recommendation: recommend(task, attempts),
	}
}

// recommend picks a recommendation from the dominant failure class.
func recommend(task *db.AgentTask, attempts []attemptFailure) string {
	counts := make(map[ErrorClass]int)
	for _, a := range attempts {
		counts[a.Class]++
	}

	last := attempts[len(attempts)-1]
	switch {
	case last.Class == ClassFatal:
		return "fix the underlying configuration or credentials, then re-run 'forge resume'"
	case counts[ClassTransient] >= counts[ClassBusiness]:
		return "the failures look environmental; check agent connectivity and re-run 'forge resume'"
	case task.Complexity == "medium":
		return fmt.Sprintf("the agent could not converge on %q; consider re-planning with this task split into smaller pieces", task.TaskKey)
	default:
		return fmt.Sprintf("review the acceptance criteria of %q; the agent repeatedly produced rejected output", task.TaskKey)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
