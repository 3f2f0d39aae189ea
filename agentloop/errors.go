package agentloop

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by Submit after the session has been
// closed, either explicitly or by an unrecoverable backend error.
var ErrSessionClosed = errors.New("session is closed")

// IterationLimitError reports that an input exhausted its iteration
// budget before the model produced a final answer. The session remains
// usable; the partial narrative accompanies the error.
type IterationLimitError struct {
	Iterations int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("reached iteration limit (%d) without a final answer", e.Iterations)
}
