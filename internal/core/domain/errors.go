package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
	ErrJobConflict      = errors.New("job conflict")
	ErrJobNotFound      = errors.New("job not found")
	ErrValidationFailed = errors.New("path is not a recognizable project")
	ErrCacheMiss        = errors.New("cache miss")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
