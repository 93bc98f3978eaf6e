package inference

import (
	"fmt"

	"go.uber.org/multierr"
)

// ValidationError reports a request body that matches neither accepted
// payload shape. It maps to HTTP 422.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Details lists every individual validation failure.
func (e *ValidationError) Details() []string {
	errs := multierr.Errors(e.Err)
	details := make([]string, 0, len(errs))
	for _, err := range errs {
		details = append(details, err.Error())
	}
	return details
}

// InferenceError wraps a failure inside model prediction or explanation. It
// maps to HTTP 500.
type InferenceError struct {
	Model string
	Stage string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Model, e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
