package call

import (
	"errors"
	"fmt"
)

// ErrConnectTimeout indicates the backend never reported CallConnected
// within the configured budget.
var ErrConnectTimeout = errors.New("call was never connected within the connect timeout")

// ErrCallTornDown indicates the remote side disconnected while an operation
// was still pending.
var ErrCallTornDown = errors.New("call was torn down by the remote side")

// SetupError reports a failure while creating or answering the call.
type SetupError struct {
	Target string
	Cause  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("failed to establish call to %q: %v", e.Target, e.Cause)
}

func (e *SetupError) Unwrap() error {
	return e.Cause
}
