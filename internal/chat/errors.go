package chat

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a session does not exist or belongs to a
// different user. The two cases are deliberately indistinguishable to the
// caller.
var ErrNotFound = errors.New("chat: session not found")

// InvalidInputError reports a question rejected before any retrieval runs,
// either by basic validation or by an input guardrail. The user can recover
// by rephrasing. Policy is empty for plain validation failures.
type InvalidInputError struct {
	Policy string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Policy == "" {
		return fmt.Sprintf("chat: invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("chat: input rejected by policy %s: %s", e.Policy, e.Reason)
}

// IsInvalidInput reports whether err is an InvalidInputError.
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie)
}
