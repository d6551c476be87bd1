package graph

import (
	"fmt"

	"loreweave.ai/internal/protocol"
)

// MalformedGraphError rejects a package whose connectivity data does not
// describe a well-formed graph.
type MalformedGraphError struct {
	Package  string
	Location string
	Ref      string
	Reason   string
}

func (e *MalformedGraphError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("package %s: location %s: %s %q", e.Package, e.Location, e.Reason, e.Ref)
	}
	if e.Location != "" {
		return fmt.Sprintf("package %s: location %s: %s", e.Package, e.Location, e.Reason)
	}
	return fmt.Sprintf("package %s: %s", e.Package, e.Reason)
}

func (e *MalformedGraphError) Code() string { return protocol.ErrMalformedGraph }

// NoPathError names a disconnected pair.
type NoPathError struct {
	From string
	To   string
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("no path from %s to %s", e.From, e.To)
}

func (e *NoPathError) Code() string { return protocol.ErrNoPath }

// UnknownLocationError is returned for identifiers absent from the world.
type UnknownLocationError struct {
	ID string
}

func (e *UnknownLocationError) Error() string {
	return fmt.Sprintf("unknown location %q", e.ID)
}

func (e *UnknownLocationError) Code() string { return protocol.ErrInvalidDestination }
