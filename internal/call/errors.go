package call

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAccessDenied = errors.New("media access denied")
	ErrJoinFailed        = errors.New("failed to join room")
	ErrTransportFailure  = errors.New("media transport failed")
	ErrSignalingFailure  = errors.New("signaling failed")
	ErrCallActive        = errors.New("a call is already active")
	ErrCallEnded         = errors.New("call ended")
)

// MediaDeniedMessage is shown when the camera or microphone cannot be used.
const MediaDeniedMessage = "Connection failed. Check camera and microphone permissions."

// CallError records the step of a call that failed.
type CallError struct {
	Op      string
	Err     error
	Details string
}

func (e *CallError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// UserMessage is the line to show the user for a failed call.
func (e *CallError) UserMessage() string {
	if errors.Is(e.Err, ErrMediaAccessDenied) {
		return MediaDeniedMessage
	}
	return Error.StatusMessage()
}

func NewError(op string, err error) *CallError {
	return &CallError{Op: op, Err: err}
}

// WrapError tags cause with the sentinel kind so both errors.Is(err, kind)
// and the underlying cause are preserved.
func WrapError(op string, kind, cause error) *CallError {
	if cause == nil {
		return &CallError{Op: op, Err: kind}
	}
	return &CallError{Op: op, Err: fmt.Errorf("%w: %w", kind, cause)}
}
