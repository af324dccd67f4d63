// Package errors defines the error taxonomy shared by every component of the
// pitch-analysis core. Every error that crosses a component boundary is
// classified into exactly one Kind, so callers can branch on recovery policy
// (surface, retry, discard, or fall back) without inspecting message text.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by its recovery policy.
type Kind int

const (
	// Unknown is the zero value, carried by a CoreError constructed without
	// a Kind; KindOf also returns it for errors that are not CoreErrors.
	Unknown Kind = iota

	// PermissionDenied originates at the audio graph. Surfaced to the user;
	// requires an explicit retry.
	PermissionDenied
	// DeviceUnavailable originates at the audio graph. Surfaced; the user
	// selects another device.
	DeviceUnavailable
	// ApiUnsupported originates at the audio graph. Fatal: the session
	// cannot continue.
	ApiUnsupported
	// AudioContextInitFailed originates at the audio graph. Retried up to a
	// bounded count with exponential backoff.
	AudioContextInitFailed
	// AudioContextSuspended originates at the audio graph. Recovery is
	// attempted on the next user gesture.
	AudioContextSuspended
	// WorkletModuleLoadFailed originates at the manager. Fatal for the
	// session.
	WorkletModuleLoadFailed
	// WorkletProcessingError originates at the processor. The worklet state
	// moves to Failed; a manual restart is required.
	WorkletProcessingError
	// MessageDeserializationFailed originates at the manager. Logged and
	// discarded; processing continues.
	MessageDeserializationFailed
	// AnalysisError originates at the analyzer. Converted to "no detection"
	// for the affected frame; never propagated to the render path.
	AnalysisError
	// ConfigurationError originates at the analyzer or detector. The
	// proposed configuration is rejected and the previous one is kept.
	ConfigurationError
)

func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceUnavailable:
		return "device_unavailable"
	case ApiUnsupported:
		return "api_unsupported"
	case AudioContextInitFailed:
		return "audio_context_init_failed"
	case AudioContextSuspended:
		return "audio_context_suspended"
	case WorkletModuleLoadFailed:
		return "worklet_module_load_failed"
	case WorkletProcessingError:
		return "worklet_processing_error"
	case MessageDeserializationFailed:
		return "message_deserialization_failed"
	case AnalysisError:
		return "analysis_error"
	case ConfigurationError:
		return "configuration_error"
	default:
		return "unknown"
	}
}

// Fatal reports whether a Kind leaves the owning component permanently
// unusable until an explicit rebuild/restart.
func (k Kind) Fatal() bool {
	switch k {
	case ApiUnsupported, WorkletModuleLoadFailed, WorkletProcessingError:
		return true
	default:
		return false
	}
}

// CoreError is the concrete error type returned across component boundaries.
type CoreError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// New creates a CoreError of the given kind.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap creates a CoreError of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, returning Unknown if err is not (or
// does not wrap) a *CoreError.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Unknown
}
