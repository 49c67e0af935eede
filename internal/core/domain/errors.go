package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidRegion       = errors.New("invalid capture region")
	ErrInvalidSource       = errors.New("invalid screen source")
	ErrBind                = errors.New("signaling bind failed")
	ErrConnectRefused      = errors.New("connection refused")
	ErrNoSessionConfigured = errors.New("no session configured")
	ErrSessionActive       = errors.New("session is active")
	ErrNotCasting          = errors.New("session is not casting")
	ErrWrongRole           = errors.New("operation not supported by session role")
)

// PipelineError wraps a failure reported by the media pipeline.
type PipelineError struct {
	Op  string
	Err error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func NewPipelineError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return err
	}
	return &PipelineError{Op: op, Err: err}
}

func IsPipelineError(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe)
}
