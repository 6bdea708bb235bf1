package crawler

import (
	"context"
	"errors"
	"strings"
)

// Action is the engine's next move after a failed attempt.
type Action int

// Possible retry decisions.
const (
	ActionFail Action = iota
	ActionRetry
	ActionRestartAndRetry
)

// Decide maps a failure onto the next action. Retries are a bounded state
// machine, not exception-driven control flow: the whole decision is a pure
// function of the failure class and the two counters, so it can be tested
// exhaustively without a browser.
func Decide(class ErrorClass, attempt, maxRetries, crashes, crashBudget int) Action {
	switch class {
	case ErrInvalidURL, ErrNotFound:
		// Never worth retrying.
		return ActionFail
	case ErrSessionCrash:
		if crashes >= crashBudget {
			return ActionFail
		}
		if attempt < maxRetries {
			return ActionRestartAndRetry
		}
		return ActionFail
	case ErrTimeout:
		if attempt < maxRetries {
			// A fresh navigation on a fresh session shakes loose most hangs.
			return ActionRestartAndRetry
		}
		return ActionFail
	default:
		if attempt < maxRetries {
			return ActionRetry
		}
		return ActionFail
	}
}

// crashMarkers are the driver error fragments that indicate the browser
// process or target died rather than the page merely misbehaving.
var crashMarkers = []string{
	"target closed",
	"target crashed",
	"browser closed",
	"disconnected",
	"websocket url timeout",
	"connection refused",
	"session closed",
}

// ClassifyLoadError maps a session Load error onto the failure taxonomy.
func ClassifyLoadError(err error) ErrorClass {
	if err == nil {
		return ErrNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	// Crash markers first: "websocket url timeout" is a dead browser, not a
	// slow page, and must not fall into the generic timeout bucket.
	for _, marker := range crashMarkers {
		if strings.Contains(msg, marker) {
			return ErrSessionCrash
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return ErrTimeout
	}
	return ErrExtractionFailed
}

// goneMarkers are failure signatures that mean the target is permanently
// gone, so the existing ledger value should be cleared rather than preserved.
var goneMarkers = []string{
	"404",
	"not found",
	"unavailable",
	"removed",
}

// IsGoneError reports whether a terminal failure should be treated as a
// broken link rather than a transient error.
func IsGoneError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range goneMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
