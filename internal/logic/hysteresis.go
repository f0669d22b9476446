package logic

import "fmt"

// Direction selects which side of the trip point is unsafe.
type Direction int

const (
	// Falling trips when the value drops below Enter (battery voltage).
	Falling Direction = iota
	// Rising trips when the value climbs above Enter (temperature).
	Rising
)

// Hysteresis is a two-state threshold with distinct trip and recovery points.
// Once tripped, the value has to move Margin past Enter in the safe direction
// before the state clears.
type Hysteresis struct {
	Enter     float64
	Margin    float64
	Direction Direction

	tripped bool
}

// NewHysteresis returns an untripped threshold. Margin must be positive,
// otherwise the recovery point would coincide with the trip point.
func NewHysteresis(enter, margin float64, dir Direction) (*Hysteresis, error) {
	if margin <= 0 {
		return nil, fmt.Errorf("hysteresis margin must be positive, got %v", margin)
	}
	return &Hysteresis{Enter: enter, Margin: margin, Direction: dir}, nil
}

// Exit returns the recovery point.
func (h *Hysteresis) Exit() float64 {
	if h.Direction == Rising {
		return h.Enter - h.Margin
	}
	return h.Enter + h.Margin
}

// Tripped reports the current state.
func (h *Hysteresis) Tripped() bool {
	return h.tripped
}

// Update feeds one validated value and reports whether the state flipped.
// Values exactly on the trip or recovery point never cause a transition.
func (h *Hysteresis) Update(v float64) (changed bool) {
	if h.tripped {
		if h.recovered(v) {
			h.tripped = false
			return true
		}
		return false
	}
	if h.crossed(v) {
		h.tripped = true
		return true
	}
	return false
}

func (h *Hysteresis) crossed(v float64) bool {
	if h.Direction == Rising {
		return v > h.Enter
	}
	return v < h.Enter
}

func (h *Hysteresis) recovered(v float64) bool {
	if h.Direction == Rising {
		return v < h.Exit()
	}
	return v > h.Exit()
}
