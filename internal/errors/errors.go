// Package errors provides structured error types for forge.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for forge.
const (
	// Initialization errors
	CodeNotInitialized Code = "FORGE_NOT_INITIALIZED"

	// Project errors
	CodeProjectNotFound     Code = "PROJECT_NOT_FOUND"
	CodeProjectInvalidPhase Code = "PROJECT_INVALID_PHASE"
	CodeApprovalRequired    Code = "APPROVAL_REQUIRED"

	// Plan errors
	CodePlanValidation Code = "PLAN_VALIDATION_FAILED"

	// Task errors
	CodeTaskNotFound     Code = "TASK_NOT_FOUND"
	CodeTaskInvalidState Code = "TASK_INVALID_STATE"
	CodeWaveClaimLost    Code = "WAVE_CLAIM_LOST"
	CodeDispatchFailed   Code = "DISPATCH_FAILED"

	// Executor errors
	CodeExecutorTransient Code = "EXECUTOR_TRANSIENT"
	CodeExecutorFatal     Code = "EXECUTOR_FATAL"
	CodeBudgetExhausted   Code = "BUDGET_EXHAUSTED"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeNotInitialized:      CategoryBadRequest,
	CodeProjectNotFound:     CategoryNotFound,
	CodeProjectInvalidPhase: CategoryBadRequest,
	CodeApprovalRequired:    CategoryConflict,
	CodePlanValidation:      CategoryBadRequest,
	CodeTaskNotFound:        CategoryNotFound,
	CodeTaskInvalidState:    CategoryBadRequest,
	CodeWaveClaimLost:       CategoryConflict,
	CodeDispatchFailed:      CategoryUnavailable,
	CodeExecutorTransient:   CategoryUnavailable,
	CodeExecutorFatal:       CategoryInternal,
	CodeBudgetExhausted:     CategoryInternal,
	CodeConfigInvalid:       CategoryBadRequest,
	CodeConfigMissing:       CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// ForgeError is the structured error type for forge.
type ForgeError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *ForgeError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ForgeError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *ForgeError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *ForgeError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// MarshalJSON implements json.Marshaler.
func (e *ForgeError) MarshalJSON() ([]byte, error) {
	type alias ForgeError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a ForgeError with the same code.
func (e *ForgeError) Is(target error) bool {
	t, ok := target.(*ForgeError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *ForgeError) WithCause(err error) *ForgeError {
	return &ForgeError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrNotInitialized returns an error for an uninitialized forge directory.
func ErrNotInitialized() *ForgeError {
	return &ForgeError{
		Code: CodeNotInitialized,
		What: "forge is not initialized in this directory",
		Why:  "No .forge/ directory found in the current path or its parents",
		Fix:  "Run 'forge init' to initialize forge in this directory",
	}
}

// ErrProjectNotFound returns an error when a project doesn't exist.
func ErrProjectNotFound(id string) *ForgeError {
	return &ForgeError{
		Code: CodeProjectNotFound,
		What: fmt.Sprintf("project %s not found", id),
		Why:  "No project with this ID exists in the store",
		Fix:  "Run 'forge status' to list projects, or start one with 'forge plan'",
	}
}

// ErrProjectInvalidPhase returns an error when a project is in the wrong phase
// for the requested operation.
func ErrProjectInvalidPhase(id, current, expected string) *ForgeError {
	return &ForgeError{
		Code: CodeProjectInvalidPhase,
		What: fmt.Sprintf("project %s is in phase '%s', expected '%s'", id, current, expected),
		Why:  "The requested operation cannot be performed in the current phase",
		Fix:  fmt.Sprintf("Check 'forge status %s' for the current phase", id),
	}
}

// ErrApprovalRequired returns an error when wave execution is requested before
// the plan review was approved.
func ErrApprovalRequired(id string) *ForgeError {
	return &ForgeError{
		Code: CodeApprovalRequired,
		What: fmt.Sprintf("project %s plan has not been approved", id),
		Why:  "Wave execution only starts after the generated plan passes human review",
		Fix:  fmt.Sprintf("Review the plan, then run 'forge approve %s'", id),
	}
}

// ErrPlanValidation returns an error for an invalid execution plan.
// taskID names the offending task.
func ErrPlanValidation(taskID, reason string) *ForgeError {
	return &ForgeError{
		Code: CodePlanValidation,
		What: fmt.Sprintf("execution plan is invalid at task %s", taskID),
		Why:  reason,
		Fix:  "Reject the plan to trigger re-planning, or fix the blueprint and re-run 'forge plan'",
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *ForgeError {
	return &ForgeError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
		Why:  "No task with this ID exists in the current project",
		Fix:  "Run 'forge tasks' to list tasks for the project",
	}
}

// ErrTaskInvalidState returns an error when a task is in an invalid state.
func ErrTaskInvalidState(id, current, expected string) *ForgeError {
	return &ForgeError{
		Code: CodeTaskInvalidState,
		What: fmt.Sprintf("task %s is in state '%s', expected '%s'", id, current, expected),
		Why:  "The requested operation cannot be performed in the current task state",
		Fix:  fmt.Sprintf("Check 'forge tasks' for the current state of %s", id),
	}
}

// ErrWaveClaimLost returns an error when another resume call claimed the wave first.
func ErrWaveClaimLost(projectID string) *ForgeError {
	return &ForgeError{
		Code: CodeWaveClaimLost,
		What: fmt.Sprintf("wave claim for project %s lost to a concurrent resume", projectID),
		Why:  "Two task completions raced to schedule the next wave; one claim wins",
		Fix:  "No action needed; the winning resume dispatched the wave",
	}
}

// ErrDispatchFailed returns an error when a dispatch event could not be sent.
func ErrDispatchFailed(taskID string) *ForgeError {
	return &ForgeError{
		Code: CodeDispatchFailed,
		What: fmt.Sprintf("failed to dispatch task %s", taskID),
		Why:  "The execution event could not be delivered; the task was released back to pending",
		Fix:  "Re-run 'forge resume' once the event bus is healthy",
	}
}

// ErrExecutorTransient returns an error for a recoverable attempt failure.
// The retry supervisor backs off and tries again.
func ErrExecutorTransient(taskID, reason string) *ForgeError {
	return &ForgeError{
		Code: CodeExecutorTransient,
		What: fmt.Sprintf("task %s attempt failed: %s", taskID, reason),
		Why:  "The agent hit a transient condition such as a network failure or rate limit",
		Fix:  "No action needed; the supervisor retries with backoff",
	}
}

// ErrExecutorFatal returns an error for a failure that retrying cannot fix.
func ErrExecutorFatal(taskID, reason string) *ForgeError {
	return &ForgeError{
		Code: CodeExecutorFatal,
		What: fmt.Sprintf("task %s failed permanently: %s", taskID, reason),
		Why:  "The agent hit a condition that will not change between attempts",
		Fix:  "Fix the underlying cause (credentials, agent command, task definition) and re-run",
	}
}

// ErrBudgetExhausted returns an error when a task's retry budget ran out.
func ErrBudgetExhausted(taskID string, iterations int) *ForgeError {
	return &ForgeError{
		Code: CodeBudgetExhausted,
		What: fmt.Sprintf("task %s failed after %d attempts", taskID, iterations),
		Why:  "The retry budget (iterations, duration, or cost) was exhausted without success",
		Fix:  "Inspect the failure summary with 'forge tasks', then re-plan or adjust the task",
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *ForgeError {
	return &ForgeError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .forge/config.yaml and fix the invalid field",
	}
}

// ErrConfigMissing returns an error for missing configuration.
func ErrConfigMissing(field string) *ForgeError {
	return &ForgeError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", field),
		Why:  "This field is required but not set in configuration",
		Fix:  fmt.Sprintf("Add '%s' to .forge/config.yaml", field),
	}
}

// AsForgeError attempts to convert an error to a ForgeError.
// Returns nil if the error is not a ForgeError.
func AsForgeError(err error) *ForgeError {
	var fe *ForgeError
	if As(err, &fe) {
		return fe
	}
	return nil
}

// As is a convenience wrapper for errors.As semantics on ForgeError chains.
func As(err error, target any) bool {
	return asError(err, target)
}

func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if fe, ok := err.(*ForgeError); ok {
		if t, ok := target.(**ForgeError); ok {
			*t = fe
			return true
		}
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a ForgeError with unknown code.
func Wrap(err error, what string) *ForgeError {
	return &ForgeError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
