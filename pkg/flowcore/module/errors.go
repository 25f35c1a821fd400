package module

import "errors"

// Tool errors.
var (
	// ErrUnknownTool is returned when a Toolset has no tool with the requested name.
	ErrUnknownTool = errors.New("unknown tool")
)
