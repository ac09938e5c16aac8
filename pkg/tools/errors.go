package tools

import "errors"

var (
	// ErrUnknownTool is returned when a dispatch names a tool that was
	// never registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool is returned when registering a name twice.
	ErrDuplicateTool = errors.New("tool already registered")
)
