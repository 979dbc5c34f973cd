package proto

import "fmt"

// Stable error categories expected on the wire, per the connector's error
// taxonomy. Any other string is a valid, server-supplied code and is
// propagated verbatim.
const (
	ErrNoHandlerForCommand = "NO_HANDLER_FOR_COMMAND"
	ErrNoHandlerForQuery   = "NO_HANDLER_FOR_QUERY"
	ErrCommandExecution    = "COMMAND_EXECUTION_ERROR"
	ErrCommandDispatch     = "COMMAND_DISPATCH_ERROR"
)

// DispatchError is a structured error preserving both the wire-level error
// category and the human-readable message, so callers can recover the
// category with errors.As instead of string-matching Error().
type DispatchError struct {
	Category string
	Message  string
}

func (e *DispatchError) Error() string {
	if e.Message == "" {
		return e.Category
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// NewDispatchError builds a DispatchError for the given category.
func NewDispatchError(category, message string) *DispatchError {
	return &DispatchError{Category: category, Message: message}
}
