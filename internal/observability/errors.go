package observability

import (
	"errors"
	"fmt"
)

// AggregateErrors joins the non-nil errors of a multi-step operation, logs one entry
// listing them and returns the joined error, or nil when every step succeeded.
func AggregateErrors(logger Logger, operation string, errs []error, fields ...Field) error {
	var (
		kept     []error
		messages []string
	)
	for _, err := range errs {
		if err == nil {
			continue
		}
		kept = append(kept, err)
		messages = append(messages, err.Error())
	}
	if len(kept) == 0 {
		return nil
	}
	if logger == nil {
		logger = Log()
	}
	logger.Error(operation+" failed",
		append(fields,
			Field{Key: "operation", Value: operation},
			Field{Key: "error_count", Value: len(kept)},
			Field{Key: "errors", Value: messages},
		)...,
	)
	return fmt.Errorf("%s failed: %w", operation, errors.Join(kept...))
}
