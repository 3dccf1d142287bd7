package nn

import (
	"fmt"

	"dinosim/internal/model"
)

// Forward evaluates genome once. Neurons present in inputByNeuron keep their
// fixed value; every other neuron is computed in declaration order.
func Forward(genome model.Genome, inputByNeuron map[string]float64) (map[string]float64, error) {
	values := make(map[string]float64, len(genome.Neurons))
	for neuronID, value := range inputByNeuron {
		values[neuronID] = value
	}

	incoming := make(map[string][]model.Synapse, len(genome.Neurons))
	for _, synapse := range genome.Synapses {
		if !synapse.Enabled {
			continue
		}
		incoming[synapse.To] = append(incoming[synapse.To], synapse)
	}

	for _, neuron := range genome.Neurons {
		if _, fixedInput := inputByNeuron[neuron.ID]; fixedInput {
			continue
		}

		total := neuron.Bias
		for _, synapse := range incoming[neuron.ID] {
			total += values[synapse.From] * synapse.Weight
		}

		activated, err := applyActivation(neuron.Activation, total)
		if err != nil {
			return nil, fmt.Errorf("neuron %s: %w", neuron.ID, err)
		}
		values[neuron.ID] = activated
	}

	return values, nil
}

func applyActivation(name string, x float64) (float64, error) {
	fn, err := GetActivation(name)
	if err != nil {
		return 0, err
	}
	return fn(x), nil
}

// Network is a genome compiled to index form. It computes the same values as
// Forward without per-call map allocations; one Network must not be shared
// between goroutines.
type Network struct {
	inputs  []int
	outputs []int
	nodes   []compiledNeuron
	values  []float64
}

type compiledNeuron struct {
	index      int
	bias       float64
	activation ActivationFunc
	from       []int
	weights    []float64
}

// Compile resolves neuron ids, activations and enabled synapses. inputIDs and
// outputIDs fix the order of Activate's input and output slices.
func Compile(genome model.Genome, inputIDs, outputIDs []string) (*Network, error) {
	index := make(map[string]int, len(genome.Neurons))
	for i, neuron := range genome.Neurons {
		if _, dup := index[neuron.ID]; dup {
			return nil, fmt.Errorf("duplicate neuron id %s", neuron.ID)
		}
		index[neuron.ID] = i
	}

	net := &Network{values: make([]float64, len(genome.Neurons))}
	fixed := make(map[int]bool, len(inputIDs))
	for _, id := range inputIDs {
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("input neuron %s not found", id)
		}
		fixed[i] = true
		net.inputs = append(net.inputs, i)
	}
	for _, id := range outputIDs {
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("output neuron %s not found", id)
		}
		net.outputs = append(net.outputs, i)
	}

	incoming := make(map[int][]model.Synapse, len(genome.Neurons))
	for _, synapse := range genome.Synapses {
		if !synapse.Enabled {
			continue
		}
		to, ok := index[synapse.To]
		if !ok {
			return nil, fmt.Errorf("synapse %s: target %s not found", synapse.ID, synapse.To)
		}
		if _, ok := index[synapse.From]; !ok {
			return nil, fmt.Errorf("synapse %s: source %s not found", synapse.ID, synapse.From)
		}
		incoming[to] = append(incoming[to], synapse)
	}

	for i, neuron := range genome.Neurons {
		if fixed[i] {
			continue
		}
		fn, err := GetActivation(neuron.Activation)
		if err != nil {
			return nil, fmt.Errorf("neuron %s: %w", neuron.ID, err)
		}
		node := compiledNeuron{index: i, bias: neuron.Bias, activation: fn}
		for _, synapse := range incoming[i] {
			node.from = append(node.from, index[synapse.From])
			node.weights = append(node.weights, synapse.Weight)
		}
		net.nodes = append(net.nodes, node)
	}
	return net, nil
}

func (n *Network) InputSize() int  { return len(n.inputs) }
func (n *Network) OutputSize() int { return len(n.outputs) }

// Activate writes the outputs for inputs into out, which must have
// OutputSize elements.
func (n *Network) Activate(inputs, out []float64) error {
	if len(inputs) != len(n.inputs) {
		return fmt.Errorf("input size mismatch: got=%d want=%d", len(inputs), len(n.inputs))
	}
	if len(out) != len(n.outputs) {
		return fmt.Errorf("output size mismatch: got=%d want=%d", len(out), len(n.outputs))
	}
	for i := range n.values {
		n.values[i] = 0
	}
	for i, idx := range n.inputs {
		n.values[idx] = inputs[i]
	}
	for _, node := range n.nodes {
		total := node.bias
		for j, from := range node.from {
			total += n.values[from] * node.weights[j]
		}
		n.values[node.index] = node.activation(total)
	}
	for i, idx := range n.outputs {
		out[i] = n.values[idx]
	}
	return nil
}
