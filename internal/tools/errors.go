package tools

import "fmt"

// ErrToolUnavailable is returned when a call names a tool that is not
// registered.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("Tool %s not found", e.ToolName)
}

// ArgsError reports arguments that fail a tool's input schema. It is a
// protocol error (invalid params), not a tool failure.
type ArgsError struct {
	Tool  string
	Field string
	Msg   string
}

func (e *ArgsError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("Invalid arguments for tool %s: %s", e.Tool, e.Msg)
	}
	return fmt.Sprintf("Invalid arguments for tool %s: %s: %s", e.Tool, e.Field, e.Msg)
}
