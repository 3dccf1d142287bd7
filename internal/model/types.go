package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Genome is a feed-forward network description. Neurons are listed in
// evaluation order: inputs first, then hidden, then outputs.
type Genome struct {
	VersionedRecord
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Generation  int       `json:"generation"`
	Neurons     []Neuron  `json:"neurons"`
	Synapses    []Synapse `json:"synapses"`
	SensorIDs   []string  `json:"sensor_ids"`
	ActuatorIDs []string  `json:"actuator_ids"`
}

type Neuron struct {
	ID         string  `json:"id"`
	Activation string  `json:"activation"`
	Bias       float64 `json:"bias"`
}

type Synapse struct {
	ID      string  `json:"id"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	Weight  float64 `json:"weight"`
	Enabled bool    `json:"enabled"`
}

// GenerationDiagnostics summarizes the fitness distribution of one generation.
type GenerationDiagnostics struct {
	Generation   int     `json:"generation"`
	BestFitness  float64 `json:"best_fitness"`
	MeanFitness  float64 `json:"mean_fitness"`
	MinFitness   float64 `json:"min_fitness"`
	StdFitness   float64 `json:"std_fitness"`
	Outcome      string  `json:"outcome"`
	Ticks        int     `json:"ticks"`
	Seed         int64   `json:"seed"`
	BestGenomeID string  `json:"best_genome_id"`
}

// RunSummary is the headline record of one training run.
type RunSummary struct {
	VersionedRecord
	RunID            string    `json:"run_id"`
	Seed             int64     `json:"seed"`
	PopulationSize   int       `json:"population_size"`
	Generations      int       `json:"generations"`
	Selection        string    `json:"selection"`
	BestFitness      float64   `json:"best_fitness"`
	FinalBestFitness float64   `json:"final_best_fitness"`
	BestGenomeID     string    `json:"best_genome_id"`
	GoalReached      bool      `json:"goal_reached"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}
