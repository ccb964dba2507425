package generation

import (
	"errors"
	"fmt"
)

// ErrProviderExhausted matches every *ExhaustedError.
var ErrProviderExhausted = errors.New("provider exhausted")

// TransientError is one failed provider attempt. It never leaves Client.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ExhaustedError reports that every primary attempt and the fallback failed.
type ExhaustedError struct {
	Attempts    int
	PrimaryErr  error
	FallbackErr error
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("generation failed after %d primary attempts", e.Attempts)
	if e.PrimaryErr != nil {
		msg += fmt.Sprintf(" (last: %v)", e.PrimaryErr)
	}
	if e.FallbackErr != nil {
		msg += fmt.Sprintf(" and fallback: %v", e.FallbackErr)
	} else {
		msg += " and no fallback is configured"
	}
	return msg
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrProviderExhausted }

func (e *ExhaustedError) Unwrap() []error {
	var errs []error
	if e.PrimaryErr != nil {
		errs = append(errs, e.PrimaryErr)
	}
	if e.FallbackErr != nil {
		errs = append(errs, e.FallbackErr)
	}
	return errs
}
