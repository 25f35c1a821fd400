package errors

import "fmt"

// JSONParseError reports model output that a parser could not decode as
// JSON.
type JSONParseError struct {
	// Parser names the module that failed.
	Parser string
	// Input is the text handed to the decoder.
	Input string
	// Offset is the byte offset of a syntax error in Input, or zero.
	Offset int64
	Err    error
}

// Error implements the error interface.
func (e *JSONParseError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("%s: invalid JSON at offset %d: %v", e.Parser, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s: invalid JSON: %v", e.Parser, e.Err)
}

// Unwrap returns the decoder error.
func (e *JSONParseError) Unwrap() error {
	return e.Err
}

// ValidationError reports decoded output that lacks a required field or
// holds a value of the wrong type.
type ValidationError struct {
	Parser  string
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %s: %s", e.Parser, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Parser, e.Message)
}
