package app

import (
	"errors"
	"fmt"
)

// SetupError is a fatal run error: the page accessor or the site session
// could not be established.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup failed at %s: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

var errCancelled = errors.New("extraction cancelled")
