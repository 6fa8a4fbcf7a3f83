package safetrade_errors

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrRateLimited          = errors.New("rate limited")
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrAlreadyExists        = errors.New("already exists")
	ErrBlocked              = errors.New("message blocked")
	ErrVerificationRequired = errors.New("identity verification required")
	ErrClosed               = errors.New("view closed")
)

// LoadError reports a failed initial fetch. Whatever state the caller held
// before the attempt is left untouched.
type LoadError struct {
	Op  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Op, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SendError reports a transport or server failure for a message that was
// accepted for delivery. The optimistic entry stays in the stream as failed.
type SendError struct {
	TempID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.TempID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// BlockedError is returned when the fraud gate rejected the content.
// Detail carries the gate's per-flag explanation.
type BlockedError struct {
	Reason    string
	Detail    string
	RiskLevel string
	Score     int
	Flags     []string
}

func (e *BlockedError) Error() string {
	if e.Reason == "" {
		return ErrBlocked.Error()
	}
	return e.Reason
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// VerificationRequiredError lists the parties that have not completed identity
// verification.
type VerificationRequiredError struct {
	UserIDs []string
}

func (e *VerificationRequiredError) Error() string {
	if len(e.UserIDs) == 0 {
		return ErrVerificationRequired.Error()
	}
	return fmt.Sprintf("%s: %s", ErrVerificationRequired.Error(), strings.Join(e.UserIDs, ", "))
}

func (e *VerificationRequiredError) Is(target error) bool { return target == ErrVerificationRequired }
