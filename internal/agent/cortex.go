package agent

import (
	"errors"
	"fmt"
	"math"

	"dinosim/internal/model"
	"dinosim/internal/nn"
	"dinosim/internal/sim"
)

const (
	OutputNeuronID = "o"
	// JumpThreshold is the output level above which the cortex jumps.
	JumpThreshold = 0.5
)

// ErrContract reports an observation or network output that violates the
// controller contract.
var ErrContract = errors.New("controller contract violated")

// InputNeuronIDs returns the input neuron ids i0..i(n-1), one per observation slot.
func InputNeuronIDs() []string {
	ids := make([]string, sim.ObservationSize)
	for i := range ids {
		ids[i] = fmt.Sprintf("i%d", i)
	}
	return ids
}

// InputScale returns per-slot divisors that bring an observation into
// roughly [-1, 1]: distances by view width, heights by floor depth.
func InputScale(cfg sim.Config) []float64 {
	scale := make([]float64, sim.ObservationSize)
	for i := 0; i < sim.SensorWindow; i++ {
		scale[i] = cfg.ViewWidth
		scale[sim.SensorWindow+i] = cfg.FloorY
	}
	scale[sim.ObservationSize-1] = 1
	return scale
}

// Cortex drives one actor with a compiled genome. It keeps scratch buffers,
// so each actor needs its own Cortex.
type Cortex struct {
	id     string
	net    *nn.Network
	scale  []float64
	inputs []float64
	output []float64
}

// NewCortex compiles genome against the fixed observation layout. A nil
// scale feeds raw observation values.
func NewCortex(id string, genome model.Genome, scale []float64) (*Cortex, error) {
	if id == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if scale != nil && len(scale) != sim.ObservationSize {
		return nil, fmt.Errorf("%w: scale size got=%d want=%d", ErrContract, len(scale), sim.ObservationSize)
	}
	net, err := nn.Compile(genome, InputNeuronIDs(), []string{OutputNeuronID})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}
	return &Cortex{
		id:     id,
		net:    net,
		scale:  scale,
		inputs: make([]float64, sim.ObservationSize),
		output: make([]float64, 1),
	}, nil
}

func (c *Cortex) ID() string {
	return c.id
}

// Output returns the raw network output for observation.
func (c *Cortex) Output(observation sim.Observation) (float64, error) {
	if len(observation) != sim.ObservationSize {
		return 0, fmt.Errorf("%w: observation size got=%d want=%d", ErrContract, len(observation), sim.ObservationSize)
	}
	for i, v := range observation {
		if c.scale != nil && c.scale[i] != 0 {
			v /= c.scale[i]
		}
		c.inputs[i] = v
	}
	if err := c.net.Activate(c.inputs, c.output); err != nil {
		return 0, err
	}
	out := c.output[0]
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, fmt.Errorf("%w: agent %s produced non-finite output %v", ErrContract, c.id, out)
	}
	return out, nil
}

func (c *Cortex) Decide(observation sim.Observation) (bool, error) {
	out, err := c.Output(observation)
	if err != nil {
		return false, err
	}
	return out > JumpThreshold, nil
}
