package types

import "fmt"

// Error codes returned by the engine and pool layers (spec.md §7).
const (
	ErrInvalidFlock       = "invalid_flock"
	ErrInvalidReqID       = "invalid_reqid"
	ErrInvalidImageParam  = "invalid_image_param"
	ErrInvalidOptions     = "invalid_options"
	ErrInvalidDeferred    = "invalid_deferred"
	ErrFlockNotRunning    = "flock_not_running"
	ErrStartError         = "start_error"
	ErrNotRunning         = "not_running"
	ErrAlreadyDone        = "already_done"
	ErrNoSuchPool         = "no_such_pool"
)

// Error is the typed form of the "{error: <code>, ...}" shape every
// core operation returns instead of raising across the API boundary.
type Error struct {
	ErrCode string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Extra   map[string]any `json:"-"`
}

func NewError(code, message string, extra map[string]any) *Error {
	return &Error{ErrCode: code, Message: message, Extra: extra}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
	}
	return e.ErrCode
}

func (e *Error) Code() string { return e.ErrCode }

// MarshalMap flattens the error into the wire shape callers expect:
// {"error": code, ...extra fields}.
func (e *Error) MarshalMap() map[string]any {
	out := map[string]any{"error": e.ErrCode}
	for k, v := range e.Extra {
		out[k] = v
	}
	return out
}
