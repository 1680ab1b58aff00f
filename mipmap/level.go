package mipmap

import (
	"fmt"
	"time"
)

// State is the load state of one mipmap level.
type State uint8

const (
	// Waiting levels have no payload. They load when used.
	Waiting State = iota
	// Ready levels hold a payload.
	Ready
	// Failed is terminal for the level.
	Failed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// MipLevel is a snapshot of one level. A Ready level always has a
// Payload; Waiting and Failed levels never do.
type MipLevel struct {
	State    State
	LastUsed time.Time
	Payload  *Payload

	// GPUGeneration changes whenever the GPU copy of this level must be
	// dropped. Selectors compare it against the generation they uploaded.
	GPUGeneration uint64

	gpuDropped bool
}

// Vec2 is an on-screen size in pixels.
type Vec2 struct {
	X, Y float64
}
