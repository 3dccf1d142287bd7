package genotype

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"dinosim/internal/model"
)

const (
	SchemaVersion = 1
	CodecVersion  = 1

	OutputActivation = "sigmoid"
	HiddenActivation = "tanh"
)

// FeedForwardSpec describes a dense network. Hidden may be zero, in which
// case inputs connect straight to outputs.
type FeedForwardSpec struct {
	ID        string
	InputIDs  []string
	OutputIDs []string
	Hidden    int
}

// NewFeedForward builds a fully connected genome with weights and biases
// drawn uniformly from [-1, 1].
func NewFeedForward(spec FeedForwardSpec, rng *rand.Rand) (model.Genome, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return model.Genome{}, fmt.Errorf("genome id is required")
	}
	if len(spec.InputIDs) == 0 || len(spec.OutputIDs) == 0 {
		return model.Genome{}, fmt.Errorf("genome %s needs inputs and outputs", spec.ID)
	}
	if spec.Hidden < 0 {
		return model.Genome{}, fmt.Errorf("hidden size must be >= 0, got %d", spec.Hidden)
	}
	rng = ensureRNG(rng)

	genome := model.Genome{
		VersionedRecord: model.VersionedRecord{SchemaVersion: SchemaVersion, CodecVersion: CodecVersion},
		ID:              spec.ID,
		SensorIDs:       append([]string(nil), spec.InputIDs...),
		ActuatorIDs:     append([]string(nil), spec.OutputIDs...),
	}
	for _, id := range spec.InputIDs {
		genome.Neurons = append(genome.Neurons, model.Neuron{ID: id, Activation: "identity"})
	}

	sources := spec.InputIDs
	if spec.Hidden > 0 {
		hidden := make([]string, spec.Hidden)
		for i := range hidden {
			hidden[i] = fmt.Sprintf("h%d", i)
			genome.Neurons = append(genome.Neurons, model.Neuron{ID: hidden[i], Activation: HiddenActivation, Bias: randomCentered(rng)})
		}
		genome.Synapses = connect(genome.Synapses, sources, hidden, rng)
		sources = hidden
	}
	for _, id := range spec.OutputIDs {
		genome.Neurons = append(genome.Neurons, model.Neuron{ID: id, Activation: OutputActivation, Bias: randomCentered(rng)})
	}
	genome.Synapses = connect(genome.Synapses, sources, spec.OutputIDs, rng)
	return genome, nil
}

func connect(synapses []model.Synapse, from, to []string, rng *rand.Rand) []model.Synapse {
	for _, dst := range to {
		for _, src := range from {
			synapses = append(synapses, model.Synapse{
				ID:      src + "->" + dst,
				From:    src,
				To:      dst,
				Weight:  randomCentered(rng),
				Enabled: true,
			})
		}
	}
	return synapses
}

func randomCentered(rng *rand.Rand) float64 {
	return rng.Float64()*2 - 1
}

func ensureRNG(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
