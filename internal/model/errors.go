package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrAdmissionRejected = errors.New("another forecast is already running")
	ErrJobTimeout        = errors.New("job timed out")
	ErrJobFailure        = errors.New("job failed")
	ErrPersistence       = errors.New("persistence failed")
	ErrNotFound          = errors.New("not found")
)

// ValidationError rejects a request before any job is launched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// JobFailure is a non-zero exit or unusable output of an external job.
type JobFailure struct {
	Reason   string
	ExitCode int
}

func (e *JobFailure) Error() string {
	return "job failed: " + e.Reason
}

func (e *JobFailure) Is(target error) bool {
	return target == ErrJobFailure
}

// PersistenceError wraps a storage collaborator failure as-is.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
