// Package generation talks to the narrating model. Narrator produces the next
// piece of story plus state directives; Summarizer condenses old turns.
package generation

import (
	"context"

	"loreweave.ai/internal/protocol"
	"loreweave.ai/internal/sim/chronicle"
)

type Place struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Move is a movement the engine already validated; the narrator only
// describes it.
type Move struct {
	To   string   `json:"to"`
	Path []string `json:"path"`
}

type NarrationRequest struct {
	Context   chronicle.Context
	Input     string
	Package   string
	Location  Place
	Neighbors []Place
	// Objectives open in the active package.
	Objectives []string
	Move       *Move
	// Rejection is an in-fiction hint that the player asked for something
	// the world does not allow. Never a raw error.
	Rejection string
	// Reduced is set on the retry after a failed attempt.
	Reduced bool
}

type Narrator interface {
	Narrate(ctx context.Context, req NarrationRequest) (protocol.Narration, error)
}

// Summarizer is implemented by every backend here.
type Summarizer = chronicle.Summarizer
