package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/cashutrack/internal/oracle"
	"github.com/roach88/cashutrack/internal/token"
)

// Sentinel errors. ErrInvalidPayload, ErrRateLimited and ErrUnavailable are
// the collaborators' sentinels re-exported so callers need only this package.
var (
	ErrInvalidPayload   = token.ErrInvalidPayload
	ErrRateLimited      = oracle.ErrRateLimited
	ErrUnavailable      = oracle.ErrUnavailable
	ErrStoreWriteFailed = errors.New("store write failed")
	ErrNotRunning       = errors.New("engine not running")
	ErrAlreadyStarted   = errors.New("engine already started")
)

// TrackError represents a failure surfaced by the engine.
//
// TrackError includes structured fields for diagnostics. Err carries the
// underlying cause and is reachable through errors.Is/As.
type TrackError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// TokenID identifies the affected token, when there is one.
	TokenID string

	// FundingSource identifies the affected queue, when there is one.
	FundingSource string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInvalidPayload indicates the funding source could not be derived.
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	// ErrCodeRateLimited indicates the oracle asked us to slow down.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// ErrCodeUnavailable indicates the oracle failed or timed out.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"

	// ErrCodeStoreWriteFailed indicates a snapshot could not be persisted.
	ErrCodeStoreWriteFailed ErrorCode = "STORE_WRITE_FAILED"

	// ErrCodeNotRunning indicates the engine has not been resumed or was shut down.
	ErrCodeNotRunning ErrorCode = "NOT_RUNNING"
)

// Error implements the error interface.
func (e *TrackError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.TokenID != "" && e.FundingSource != "":
		msg = fmt.Sprintf("%s (token=%s, source=%s)", msg, token.ShortID(e.TokenID), e.FundingSource)
	case e.TokenID != "":
		msg = fmt.Sprintf("%s (token=%s)", msg, token.ShortID(e.TokenID))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *TrackError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var te *TrackError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsInvalidPayload returns true if err reports an undecodable payload.
func IsInvalidPayload(err error) bool {
	return hasCode(err, ErrCodeInvalidPayload) || errors.Is(err, ErrInvalidPayload)
}

// IsRateLimited returns true if err reports an oracle rate limit.
func IsRateLimited(err error) bool {
	return hasCode(err, ErrCodeRateLimited) || errors.Is(err, ErrRateLimited)
}

// IsUnavailable returns true if err reports an oracle failure or timeout.
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsStoreWriteFailed returns true if err reports a failed snapshot write.
func IsStoreWriteFailed(err error) bool {
	return hasCode(err, ErrCodeStoreWriteFailed) || errors.Is(err, ErrStoreWriteFailed)
}

// IsNotRunning returns true if err reports use of a stopped engine.
func IsNotRunning(err error) bool {
	return hasCode(err, ErrCodeNotRunning) || errors.Is(err, ErrNotRunning)
}

// classify maps an oracle error onto an engine error code.
func classify(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrRateLimited):
		return ErrCodeRateLimited
	default:
		return ErrCodeUnavailable
	}
}
