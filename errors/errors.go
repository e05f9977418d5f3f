package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass says how a caller should react to an error.
type ErrorClass int

// Error classes. Transient failures are retried, invalid ones are reported
// and skipped, fatal ones stop the component.
const (
	ErrorTransient ErrorClass = iota
	ErrorInvalid
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// Lifecycle
	ErrNotStarted = errors.New("component not started")

	// Connectivity
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Data
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrNotFound      = errors.New("not found")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Remote services and mapping
	ErrServiceUnreachable = errors.New("remote service unreachable")
	ErrMissingAccessURL   = errors.New("service has no access url")
	ErrMalformedURL       = errors.New("malformed url")

	// Negotiation
	ErrNegotiationRejected   = errors.New("negotiation rejected")
	ErrNegotiationTimeout    = errors.New("negotiation timed out")
	ErrNegotiationTerminated = errors.New("negotiation terminated")
	ErrAmbiguousOrNull       = errors.New("expected exactly one dataset")
	ErrNoAcceptablePolicy    = errors.New("no acceptable policy offered")
)

// ClassifiedError carries the class an error was wrapped with, plus the
// component and operation that produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Unwrapped sentinels fall into these classes.
var (
	transientSentinels = []error{ErrConnectionTimeout, ErrServiceUnreachable, ErrStorageUnavailable, context.DeadlineExceeded}
	fatalSentinels     = []error{ErrInvalidConfig, ErrMissingConfig, ErrMissingAccessURL}
	invalidSentinels   = []error{ErrInvalidData, ErrParsingFailed, ErrMalformedURL}

	transientWords = []string{"timeout", "connection", "temporary", "unavailable"}
)

// classOf reports the class of the outermost ClassifiedError in err's chain.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying. Unclassified errors
// count as transient when they wrap a connectivity sentinel or their text
// reads like a network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	if isAny(err, transientSentinels) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, w := range transientWords {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err should stop the component.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}
	return isAny(err, fatalSentinels)
}

// IsInvalid reports whether err comes from bad input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return isAny(err, invalidSentinels)
}

// Classify returns the class of err. Unknown errors are transient so a
// service is retried on the next pass rather than dropped.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// Wrap prefixes err as "component.method: action failed: err".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient is Wrap plus the transient class.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal is Wrap plus the fatal class.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid is Wrap plus the invalid class.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}
