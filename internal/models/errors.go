package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEmailFormat   = errors.New("invalid email format")
	ErrContactAlreadyExists = errors.New("contact already exists")
	ErrSubmissionInFlight   = errors.New("submission already in progress")
	ErrFormNotFound         = errors.New("form not found")
	ErrPageNotFound         = errors.New("page not found")
)

// RemoteCallError reports a failed call to the contacts API. StatusCode is
// zero when no HTTP response was received.
type RemoteCallError struct {
	StatusCode int
	Err        error
}

func (e *RemoteCallError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("contacts API call failed: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("HTTP error! status: %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}
