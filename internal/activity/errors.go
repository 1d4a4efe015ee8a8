package activity

import (
	"errors"

	"go.temporal.io/sdk/temporal"
)

// ErrActivityValidation marks input that can never succeed.
var ErrActivityValidation = errors.New("activity input validation failed")

func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationErrorWithCause(msg, tag, cause)
}
