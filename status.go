package sensorapi

import (
	"errors"
	"fmt"

	"github.com/banshee-data/sensorapi/internal/session"
)

// Status is the outcome class of a boundary operation.
type Status int

const (
	StatusSuccess Status = iota
	StatusError
	StatusNotInitialized
	StatusNotImplemented
	// StatusTimeout is reserved for WaitNext once it blocks for messages.
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	case StatusNotInitialized:
		return "NOT_INITIALIZED"
	case StatusNotImplemented:
		return "NOT_IMPLEMENTED"
	case StatusTimeout:
		return "TIMEOUT"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

var ErrNotImplemented = errors.New("not implemented")

// Error is returned by every failing boundary operation.
type Error struct {
	Op     string
	Status Status
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sensorapi: %s: %s: %v", e.Op, e.Status, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusOf maps err to a Status. A nil error is StatusSuccess.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return classify(err)
}

func classify(err error) Status {
	switch {
	case errors.Is(err, session.ErrNotInitialized):
		return StatusNotInitialized
	case errors.Is(err, ErrNotImplemented):
		return StatusNotImplemented
	}
	return StatusError
}
