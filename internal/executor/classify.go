package executor

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/forgelabs/forge/internal/errors"
)

// ErrorClass drives the supervisor's reaction to a failed attempt.
type ErrorClass int

const (
	// ClassTransient errors are environmental; retry after backoff.
	ClassTransient ErrorClass = iota
	// ClassBusiness errors are wrong output; retry immediately with the
	// failure fed back to the agent.
	ClassBusiness
	// ClassFatal errors will not change between attempts; stop.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassBusiness:
		return "business"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"rate limit",
	"timeout",
	"temporary failure",
	"temporarily unavailable",
	"service unavailable",
	"too many requests",
	"bad gateway",
	"429",
	"502",
	"503",
	"504",
}

var fatalPatterns = []string{
	"invalid api key",
	"unauthorized",
	"forbidden",
	"401",
	"403",
	"executable file not found",
	"permission denied",
}

// Classify maps an attempt error to the supervisor's reaction. Typed errors
// win over message patterns; unrecognized errors default to business
// failures so the agent gets a chance to correct its output.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassBusiness
	}

	if fe := errors.AsForgeError(err); fe != nil {
		switch fe.Code {
		case errors.CodeExecutorTransient:
			return ClassTransient
		case errors.CodeExecutorFatal, errors.CodeBudgetExhausted:
			return ClassFatal
		}
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range fatalPatterns {
		if strings.Contains(errStr, pattern) {
			return ClassFatal
		}
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return ClassTransient
		}
	}
	return ClassBusiness
}
