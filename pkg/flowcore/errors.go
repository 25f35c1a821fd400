package flowcore

import (
	"errors"
	"fmt"
)

// ErrInvalidFlow is wrapped by every error Compile returns.
var ErrInvalidFlow = errors.New("invalid flow")

// Sentinel errors for flow validation.
var (
	// ErrNoEntryPoint indicates nothing is connected to START.
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrNodeNotFound indicates an edge or branch references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidEdge indicates an edge that can never be taken, such as one
	// leaving END.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrUnreachableNode indicates a node no edge or branch leads to.
	ErrUnreachableNode = errors.New("node is unreachable")

	// ErrDeadEnd indicates a node with no outgoing edge or branch.
	ErrDeadEnd = errors.New("node has no outgoing edge")

	// ErrInvalidBranch indicates a malformed branch declaration.
	ErrInvalidBranch = errors.New("invalid branch")

	// ErrInvalidInterrupt indicates an interrupt on an unknown node.
	ErrInvalidInterrupt = errors.New("interrupt on unknown node")

	// ErrInvalidSchema indicates a malformed state schema.
	ErrInvalidSchema = errors.New("invalid state schema")
)

// Sentinel errors for execution.
var (
	// ErrInvalidBranchResult indicates a branch path returned an empty or
	// unknown destination.
	ErrInvalidBranchResult = errors.New("branch returned invalid destination")
)

// ValidationError is one problem found by Compile. It matches both
// ErrInvalidFlow and its Kind with errors.Is.
type ValidationError struct {
	// Kind is the sentinel describing the problem.
	Kind error
	// Detail names the offending node, edge or branch.
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %v: %s", ErrInvalidFlow, e.Kind, e.Detail)
}

// Unwrap returns ErrInvalidFlow and Kind for errors.Is/As support.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidFlow, e.Kind}
}

func invalid(kind error, format string, args ...any) error {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// BranchError wraps errors from evaluating a branch.
// It provides context about which branch failed and what it returned.
type BranchError struct {
	// Source is the node the branch starts from.
	Source string
	// Branch is the branch name.
	Branch string
	// Result is the value the path returned, nil if it failed.
	Result any
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *BranchError) Error() string {
	if e.Result == nil {
		return fmt.Sprintf("branch %s from %s: %v", e.Branch, e.Source, e.Err)
	}
	return fmt.Sprintf("branch %s from %s returned %v: %v", e.Branch, e.Source, e.Result, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BranchError) Unwrap() error {
	return e.Err
}
