package route

import (
	"errors"
	"strings"
)

var (
	ErrInvalidRouteName     = errors.New("invalid sub-route name")
	ErrDuplicateRoute       = errors.New("duplicate sub-route full name")
	ErrInvalidAction        = errors.New("invalid action configuration")
	ErrDuplicateDeclaration = errors.New("action already declared")
	ErrUndeclaredAction     = errors.New("action not declared")
	ErrAlreadyActive        = errors.New("action already in route")
	ErrNotActive            = errors.New("action not in route")
	ErrUnknownPath          = errors.New("override path not found")
	ErrResolutionPanic      = errors.New("route resolution panicked")
)

// Errors collects every problem found while resolving one configuration.
type Errors []error

func (e *Errors) add(err error) {
	*e = append(*e, err)
}

// Err returns nil when no error was collected.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e Errors) Unwrap() []error {
	return e
}
