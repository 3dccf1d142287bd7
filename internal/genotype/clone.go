package genotype

import "dinosim/internal/model"

func CloneGenome(g model.Genome) model.Genome {
	out := g
	out.Neurons = append([]model.Neuron(nil), g.Neurons...)
	out.Synapses = append([]model.Synapse(nil), g.Synapses...)
	out.SensorIDs = append([]string(nil), g.SensorIDs...)
	out.ActuatorIDs = append([]string(nil), g.ActuatorIDs...)
	return out
}

// Offspring clones parent under a new id and records the lineage.
func Offspring(parent model.Genome, id string, generation int) model.Genome {
	child := CloneGenome(parent)
	child.ID = id
	child.ParentID = parent.ID
	child.Generation = generation
	return child
}
