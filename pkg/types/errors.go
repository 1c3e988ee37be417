// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"context"
	"errors"
	"fmt"
)

// Stage names the journey stage an error originated in.
type Stage string

const (
	StageRouting      Stage = "routing"
	StagePlanning     Stage = "planning"
	StageProvider     Stage = "provider"
	StageReflection   Stage = "reflection"
	StageSynthesis    Stage = "synthesis"
	StageVerification Stage = "verification"
)

var (
	// ErrCancelled reports that the caller cancelled the journey.
	ErrCancelled = errors.New("request cancelled")

	// ErrDeadlineExceeded reports that the request-level deadline elapsed.
	ErrDeadlineExceeded = errors.New("request timed out")
)

// StageError wraps a failure with the stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err for stage; nil errors stay nil.
func NewStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// IsStage reports whether err carries a StageError for stage.
func IsStage(err error, stage Stage) bool {
	var se *StageError
	return errors.As(err, &se) && se.Stage == stage
}

// ContextError maps a done context to ErrCancelled or ErrDeadlineExceeded.
// It returns nil while ctx is still live.
func ContextError(ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return ErrDeadlineExceeded
	default:
		return ErrCancelled
	}
}

// SafeMessage returns text suitable for an end user. It never includes
// wrapped provider error text, which may carry URLs with credentials.
func SafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "request cancelled"
	}
	var se *StageError
	if errors.As(err, &se) {
		switch se.Stage {
		case StageRouting:
			return "could not classify the question; please try again"
		case StageSynthesis:
			return "the answer could not be completed"
		default:
			return fmt.Sprintf("%s stage failed", se.Stage)
		}
	}
	return "internal error"
}
