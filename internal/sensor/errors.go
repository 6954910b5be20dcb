package sensor

import (
	"errors"
	"fmt"
	"strings"
)

// SensorError represents a failure raised by the sensor.
//
// Sensor errors fall into three categories:
//   - Configuration: rejected at construction, never soft-failed
//   - Illegal state: keys disappeared while deletions are disallowed
//   - External event: a deferred trigger reported an error
//
// None of them are retryable. Retry across poke cycles belongs to the host.
type SensorError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Bucket and Prefix identify the watched location, when known.
	Bucket string
	Prefix string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes sensor errors.
type ErrorCode string

const (
	// ErrCodeConfigInvalid indicates an unusable option combination.
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// ErrCodeIllegalState indicates objects were deleted while AllowDelete is false.
	ErrCodeIllegalState ErrorCode = "ILLEGAL_STATE"

	// ErrCodeExternalEvent indicates a deferred completion event reported an error.
	ErrCodeExternalEvent ErrorCode = "EXTERNAL_EVENT"

	// ErrCodeTimeout indicates the host gave up waiting for stability.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Error implements the error interface.
func (e *SensorError) Error() string {
	if e.Bucket != "" {
		return fmt.Sprintf("%s: %s (bucket=%s, prefix=%s)", e.Code, e.Message, e.Bucket, e.Prefix)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SkipError marks a failure that SoftFail degraded into a skip.
type SkipError struct {
	Err error
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Err.Error()
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

// IsSkip returns true if err was degraded to a skip.
func IsSkip(err error) bool {
	var se *SkipError
	return errors.As(err, &se)
}

// IsConfigError returns true if the error is a configuration error.
func IsConfigError(err error) bool {
	return hasCode(err, ErrCodeConfigInvalid)
}

// IsIllegalState returns true if the error reports deleted objects.
func IsIllegalState(err error) bool {
	return hasCode(err, ErrCodeIllegalState)
}

// IsExternalEventError returns true if the error came from a deferred event.
func IsExternalEventError(err error) bool {
	return hasCode(err, ErrCodeExternalEvent)
}

// IsTimeout returns true if the error reports a host timeout.
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

func hasCode(err error, code ErrorCode) bool {
	var se *SensorError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// NewConfigError creates a SensorError for an invalid option.
func NewConfigError(field, message string) *SensorError {
	return &SensorError{
		Code:    ErrCodeConfigInvalid,
		Message: message,
		Details: map[string]string{"field": field},
	}
}

// NewIllegalStateError creates a SensorError for keys deleted between pokes.
func NewIllegalStateError(bucket, prefix string, deleted []string) *SensorError {
	return &SensorError{
		Code:    ErrCodeIllegalState,
		Message: fmt.Sprintf("Illegal behavior: objects were deleted in %s between pokes.", objectPath(bucket, prefix)),
		Bucket:  bucket,
		Prefix:  prefix,
		Details: map[string]string{
			"deleted": strings.Join(deleted, ","),
		},
	}
}

// NewExternalEventError creates a SensorError carrying a trigger's message.
func NewExternalEventError(message string) *SensorError {
	return &SensorError{
		Code:    ErrCodeExternalEvent,
		Message: message,
	}
}

// NewTimeoutError creates a SensorError for a host-side timeout.
func NewTimeoutError(bucket, prefix string, waited string) *SensorError {
	return &SensorError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf("sensor timed out after %s waiting for %s to settle", waited, objectPath(bucket, prefix)),
		Bucket:  bucket,
		Prefix:  prefix,
	}
}

// Degrade wraps err in a SkipError when softFail is set.
// Configuration errors are returned unchanged.
func Degrade(err error, softFail bool) error {
	if err == nil || !softFail || IsConfigError(err) {
		return err
	}
	return &SkipError{Err: err}
}

// Outcome is the tagged result of one poke or one completed run.
type Outcome string

const (
	OutcomeAccumulating Outcome = "accumulating"
	OutcomeStable       Outcome = "stable"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
)

// Classify maps a (done, err) pair from Poke or Evaluate onto an Outcome.
func Classify(done bool, err error) Outcome {
	switch {
	case err != nil && IsSkip(err):
		return OutcomeSkipped
	case err != nil:
		return OutcomeFailed
	case done:
		return OutcomeStable
	default:
		return OutcomeAccumulating
	}
}

func objectPath(bucket, prefix string) string {
	return strings.TrimSuffix(bucket, "/") + "/" + prefix
}
