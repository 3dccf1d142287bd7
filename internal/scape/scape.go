package scape

import (
	"context"

	"dinosim/internal/sim"
)

type Fitness float64

type Trace map[string]any

type Agent interface {
	ID() string
}

// ControllerAgent is an agent that can drive an actor.
type ControllerAgent interface {
	Agent
	sim.Controller
}

type Scape interface {
	Name() string
	Evaluate(ctx context.Context, agent Agent) (Fitness, Trace, error)
}

// ModeAwareScape optionally exposes evaluation mode routing for gt/validation/test flows.
type ModeAwareScape interface {
	Scape
	EvaluateMode(ctx context.Context, agent Agent, mode string) (Fitness, Trace, error)
}

// PopulationScape evaluates a whole population in shared worlds, so every
// member faces the same obstacles. Fitness is index-aligned with agents.
type PopulationScape interface {
	Scape
	EvaluatePopulation(ctx context.Context, agents []ControllerAgent, mode string, seed int64) ([]Fitness, Trace, error)
}

type namedController struct {
	id string
	sim.Controller
}

func (n namedController) ID() string { return n.id }

// Named gives a plain controller an agent id.
func Named(id string, controller sim.Controller) ControllerAgent {
	return namedController{id: id, Controller: controller}
}
