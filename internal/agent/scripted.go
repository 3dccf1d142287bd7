package agent

import (
	"fmt"

	"dinosim/internal/sim"
)

// Never is a controller that never jumps.
type Never struct{}

func (Never) Decide(sim.Observation) (bool, error) { return false, nil }

// Always requests a jump every tick; the world ignores it while airborne.
type Always struct{}

func (Always) Decide(sim.Observation) (bool, error) { return true, nil }

// Reflex jumps when the nearest obstacle is within Distance.
type Reflex struct {
	Distance float64
}

func (r Reflex) Decide(observation sim.Observation) (bool, error) {
	if len(observation) != sim.ObservationSize {
		return false, fmt.Errorf("%w: observation size got=%d want=%d", ErrContract, len(observation), sim.ObservationSize)
	}
	nearest := observation.Distances()[0]
	return nearest >= 0 && nearest < r.Distance && observation.Heights()[0] > 0, nil
}

// Scripted returns the named scripted controller: never, always or reflex.
func Scripted(name string) (sim.Controller, error) {
	switch name {
	case "never":
		return Never{}, nil
	case "always":
		return Always{}, nil
	case "reflex":
		return Reflex{Distance: 40}, nil
	default:
		return nil, fmt.Errorf("unknown scripted controller %q", name)
	}
}

