package gatts

import (
	"errors"
	"fmt"
)

// Operation errors
var (
	ErrNoSuchCharacteristic = errors.New("no such characteristic")
	ErrValueTooLong         = errors.New("value exceeds characteristic max length")
	ErrNotReady             = errors.New("attribute interface not registered")
	ErrPeerGone             = errors.New("peer disconnected while an indication was outstanding")
	ErrConfirmFailed        = errors.New("indication confirmation reported failure")
)

// NotFoundError represents a lookup of a runtime attribute that does not exist
type NotFoundError struct {
	Resource string // "characteristic", "service", "handle"
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// Is lets errors.Is match ErrNoSuchCharacteristic for characteristic lookups
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNoSuchCharacteristic && e.Resource == "characteristic"
}

// SetupError is a failure of a one-shot schema materialization step.
// The server cannot run half built, so these are unrecoverable.
type SetupError struct {
	Phase  string // event or call that failed, e.g. "service_created"
	Status Status // non-success status reported by the stack, if any
	Err    error  // submission error returned by the stack, if any
}

func (e *SetupError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("setup failed at %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("setup failed at %s: %s", e.Phase, e.Status)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// InvariantError reports an event that references state the server never created or does
// not expect.
type InvariantError struct {
	Event  string
	Detail string
}

func (e *InvariantError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("invariant violated on %s: %s", e.Event, e.Detail)
}

// TransportError wraps a rejected submission to the stack.
type TransportError struct {
	Op   string
	Peer string
	Err  error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Peer == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s to %s: %v", e.Op, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsSetupError reports whether err is or wraps a SetupError
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}
