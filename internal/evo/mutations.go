package evo

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"dinosim/internal/genotype"
	"dinosim/internal/model"
	"dinosim/internal/nn"
)

var (
	ErrNoSynapses       = errors.New("genome has no synapses")
	ErrNoNeurons        = errors.New("genome has no mutable neurons")
	ErrNoMutationChoice = errors.New("no mutation choice available")
)

// PerturbRandomWeight mutates a random synapse using uniform delta in [-MaxDelta, MaxDelta].
type PerturbRandomWeight struct {
	Rand     *rand.Rand
	MaxDelta float64
}

func (o *PerturbRandomWeight) Name() string {
	return "perturb_random_weight"
}

func (o *PerturbRandomWeight) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if len(genome.Synapses) == 0 {
		return model.Genome{}, ErrNoSynapses
	}
	if o == nil || o.Rand == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	if o.MaxDelta <= 0 {
		return model.Genome{}, errors.New("max delta must be > 0")
	}

	idx := o.Rand.Intn(len(genome.Synapses))
	delta := (o.Rand.Float64()*2 - 1) * o.MaxDelta

	mutated := genotype.CloneGenome(genome)
	mutated.Synapses[idx].Weight = nn.Saturation(mutated.Synapses[idx].Weight + delta)
	return mutated, nil
}

// PerturbWeightsProportional perturbs each synapse with probability
// 1/sqrt(n). At least one synapse is always perturbed.
type PerturbWeightsProportional struct {
	Rand     *rand.Rand
	MaxDelta float64
}

func (o *PerturbWeightsProportional) Name() string {
	return "perturb_weights_proportional"
}

func (o *PerturbWeightsProportional) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if len(genome.Synapses) == 0 {
		return model.Genome{}, ErrNoSynapses
	}
	if o == nil || o.Rand == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	if o.MaxDelta <= 0 {
		return model.Genome{}, errors.New("max delta must be > 0")
	}

	mutated := genotype.CloneGenome(genome)
	p := 1 / math.Sqrt(float64(len(mutated.Synapses)))
	changed := false
	for i := range mutated.Synapses {
		if o.Rand.Float64() >= p {
			continue
		}
		delta := (o.Rand.Float64()*2 - 1) * o.MaxDelta
		mutated.Synapses[i].Weight = nn.Saturation(mutated.Synapses[i].Weight + delta)
		changed = true
	}
	if !changed {
		idx := o.Rand.Intn(len(mutated.Synapses))
		delta := (o.Rand.Float64()*2 - 1) * o.MaxDelta
		mutated.Synapses[idx].Weight = nn.Saturation(mutated.Synapses[idx].Weight + delta)
	}
	return mutated, nil
}

// PerturbRandomBias mutates a random non-input neuron bias using uniform
// delta in [-MaxDelta, MaxDelta].
type PerturbRandomBias struct {
	Rand     *rand.Rand
	MaxDelta float64
}

func (o *PerturbRandomBias) Name() string {
	return "perturb_random_bias"
}

func (o *PerturbRandomBias) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if o == nil || o.Rand == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	if o.MaxDelta <= 0 {
		return model.Genome{}, errors.New("max delta must be > 0")
	}
	candidates := mutableNeurons(genome)
	if len(candidates) == 0 {
		return model.Genome{}, ErrNoNeurons
	}

	idx := candidates[o.Rand.Intn(len(candidates))]
	delta := (o.Rand.Float64()*2 - 1) * o.MaxDelta

	mutated := genotype.CloneGenome(genome)
	mutated.Neurons[idx].Bias = nn.Saturation(mutated.Neurons[idx].Bias + delta)
	return mutated, nil
}

// ChangeRandomActivation swaps the activation of a random non-input neuron.
type ChangeRandomActivation struct {
	Rand        *rand.Rand
	Activations []string
}

func (o *ChangeRandomActivation) Name() string {
	return "change_random_activation"
}

func (o *ChangeRandomActivation) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if o == nil || o.Rand == nil {
		return model.Genome{}, errors.New("random source is required")
	}
	candidates := mutableNeurons(genome)
	if len(candidates) == 0 {
		return model.Genome{}, ErrNoNeurons
	}
	activations := o.Activations
	if len(activations) == 0 {
		activations = []string{"relu", "tanh", "sigmoid", "step"}
	}

	idx := candidates[o.Rand.Intn(len(candidates))]
	current := genome.Neurons[idx].Activation
	choices := make([]string, 0, len(activations))
	for _, name := range activations {
		if name != "" && name != current {
			choices = append(choices, name)
		}
	}
	if len(choices) == 0 {
		return model.Genome{}, ErrNoMutationChoice
	}

	mutated := genotype.CloneGenome(genome)
	mutated.Neurons[idx].Activation = choices[o.Rand.Intn(len(choices))]
	return mutated, nil
}

// DefaultMutationPolicy favours weight perturbation, with occasional bias
// and activation changes.
func DefaultMutationPolicy(rng *rand.Rand) []WeightedMutation {
	return []WeightedMutation{
		{Operator: &PerturbRandomWeight{Rand: rng, MaxDelta: 0.5}, Weight: 4},
		{Operator: &PerturbWeightsProportional{Rand: rng, MaxDelta: 0.3}, Weight: 3},
		{Operator: &PerturbRandomBias{Rand: rng, MaxDelta: 0.5}, Weight: 2},
		{Operator: &ChangeRandomActivation{Rand: rng}, Weight: 1},
	}
}

// mutableNeurons returns indices of neurons that are not fixed inputs.
func mutableNeurons(genome model.Genome) []int {
	inputs := make(map[string]struct{}, len(genome.SensorIDs))
	for _, id := range genome.SensorIDs {
		inputs[id] = struct{}{}
	}
	out := make([]int, 0, len(genome.Neurons))
	for i, neuron := range genome.Neurons {
		if _, ok := inputs[neuron.ID]; ok {
			continue
		}
		out = append(out, i)
	}
	return out
}
