package ejs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTemplateNotFound matches every *TemplateNotFoundError.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrDepthExceeded is returned when partials nest deeper than the renderer allows.
	ErrDepthExceeded = errors.New("partial depth exceeded")
)

// ParseError reports malformed template source.
type ParseError struct {
	Template string
	Line     int
	Message  string
}

func (e *ParseError) Error() string {
	if e.Template != "" {
		return fmt.Sprintf("%s:%d: %s", e.Template, e.Line, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// TemplateNotFoundError names a template missing from the registry.
type TemplateNotFoundError struct {
	Name        string
	Suggestions []string
}

func (e *TemplateNotFoundError) Error() string {
	msg := fmt.Sprintf("template not found: %q", e.Name)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

func (e *TemplateNotFoundError) Is(target error) bool { return target == ErrTemplateNotFound }

// RenderError wraps a failure while executing a template.
type RenderError struct {
	Template string
	Line     int
	Err      error
}

func (e *RenderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("rendering %s (line %d): %v", e.Template, e.Line, e.Err)
	}
	return fmt.Sprintf("rendering %s: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// UndefinedVariableError is reported by Context.Lookup for unbound names.
// Rendering never fails with it; unbound names evaluate to Null.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable: %s", e.Name)
}
