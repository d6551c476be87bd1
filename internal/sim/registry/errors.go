package registry

import (
	"fmt"
	"strings"

	"loreweave.ai/internal/protocol"
)

// ValidationError lists every problem found in one candidate package.
type ValidationError struct {
	Package  string
	Problems []string
	// Graph is set when the connectivity check failed.
	Graph error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("package %s failed validation: %s", e.Package, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Graph }
func (e *ValidationError) Code() string  { return protocol.ErrValidationFailed }

// ConflictError is returned when identifiers still collide after the last
// remap pass, or when a package id is already integrated with other content.
type ConflictError struct {
	Package string
	IDs     []string
	Reason  string
}

func (e *ConflictError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("integrate %s: %s", e.Package, e.Reason)
	}
	return fmt.Sprintf("integrate %s: %s: %s", e.Package, e.Reason, strings.Join(e.IDs, ", "))
}

func (e *ConflictError) Code() string { return protocol.ErrIntegrationConflict }
