// Package errors classifies failures raised by modules so that retry and
// fallback decorators can react to them.
//
// The package implements a layered error handling approach:
//   - Categorization: Classify errors for appropriate handling
//   - Retry: Handle transient failures with exponential backoff
//   - Fallback: Hand the input to an alternative module
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, temporary network issues.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: authentication failures, invalid configuration.
	CategoryPermanent

	// CategoryFallback indicates a different module might succeed where
	// retrying the same one will not.
	// Examples: unparseable model output, schema validation failures.
	CategoryFallback
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s)", e.Context, e.Err, e.Category)
	}
	return fmt.Sprintf("%s (category: %s)", e.Err, e.Category)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Fallback creates an error that calls for a fallback module.
func Fallback(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryFallback, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	// Cancellation is the caller's decision; a missed deadline is not.
	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	var jsonErr *JSONParseError
	if errors.As(err, &jsonErr) {
		return CategoryFallback
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryFallback
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsFallback reports whether handing the input to a fallback might help.
// Transient errors qualify too: by the time a fallback sees them, retries
// of the primary have been exhausted.
func IsFallback(err error) bool {
	switch Categorize(err) {
	case CategoryFallback, CategoryTransient:
		return true
	}
	return false
}
