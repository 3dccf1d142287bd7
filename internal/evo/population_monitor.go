package evo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"strings"

	"github.com/google/uuid"

	"dinosim/internal/agent"
	"dinosim/internal/genotype"
	"dinosim/internal/model"
	"dinosim/internal/nn"
	"dinosim/internal/scape"
)

type ScoredGenome struct {
	Genome  model.Genome
	Fitness float64
}

type RunResult struct {
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	FinalPopulation       []ScoredGenome
	Lineage               []LineageRecord
	// Champion is the highest-scoring genome seen in any generation.
	Champion    ScoredGenome
	GoalReached bool
}

type LineageRecord struct {
	GenomeID   string `json:"genome_id"`
	ParentID   string `json:"parent_id"`
	Generation int    `json:"generation"`
	Operation  string `json:"operation"`
}

type MonitorConfig struct {
	Scape          scape.PopulationScape
	Mode           string
	MutationPolicy []WeightedMutation
	Selector       Selector
	PopulationSize int
	EliteCount     int
	Generations    int
	// MutationsPerChild is how many policy draws each child receives.
	MutationsPerChild int
	Seed              int64
	// FitnessGoal stops the run once a generation's best reaches it. Zero disables.
	FitnessGoal float64
	// InputScale is handed to every cortex; nil feeds raw observations.
	InputScale   []float64
	Logger       *log.Logger
	OnGeneration func(model.GenerationDiagnostics)
}

type PopulationMonitor struct {
	cfg MonitorConfig
	rng *rand.Rand
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Scape == nil {
		return nil, fmt.Errorf("scape is required")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.EliteCount <= 0 || cfg.EliteCount > cfg.PopulationSize {
		return nil, fmt.Errorf("elite count must be in [1, population size]")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.FitnessGoal < 0 {
		return nil, fmt.Errorf("fitness goal must be >= 0")
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	if len(cfg.MutationPolicy) == 0 {
		cfg.MutationPolicy = DefaultMutationPolicy(rng)
	}
	positivePolicyWeight := false
	for i, item := range cfg.MutationPolicy {
		if item.Operator == nil {
			return nil, fmt.Errorf("mutation policy operator is required at index %d", i)
		}
		if item.Weight < 0 {
			return nil, fmt.Errorf("mutation policy weight must be >= 0 at index %d", i)
		}
		if item.Weight > 0 {
			positivePolicyWeight = true
		}
	}
	if !positivePolicyWeight {
		return nil, fmt.Errorf("mutation policy requires at least one positive weight")
	}
	if cfg.MutationsPerChild <= 0 {
		cfg.MutationsPerChild = 1
	}
	if cfg.Selector == nil {
		cfg.Selector = EliteSelector{}
	}
	if cfg.Mode == "" {
		cfg.Mode = "gt"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	return &PopulationMonitor{cfg: cfg, rng: rng}, nil
}

// NewID returns a uuid drawn from rng, so seeded runs produce stable ids.
func NewID(rng *rand.Rand) string {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SeedPopulation builds size random feed-forward genomes wired to the
// cortex input and output layout.
func SeedPopulation(size, hidden int, rng *rand.Rand) ([]model.Genome, error) {
	if size <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	population := make([]model.Genome, 0, size)
	for i := 0; i < size; i++ {
		genome, err := genotype.NewFeedForward(genotype.FeedForwardSpec{
			ID:        NewID(rng),
			InputIDs:  agent.InputNeuronIDs(),
			OutputIDs: []string{agent.OutputNeuronID},
			Hidden:    hidden,
		}, rng)
		if err != nil {
			return nil, err
		}
		population = append(population, genome)
	}
	return population, nil
}

func (m *PopulationMonitor) Run(ctx context.Context, initial []model.Genome) (RunResult, error) {
	if len(initial) != m.cfg.PopulationSize {
		return RunResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(initial), m.cfg.PopulationSize)
	}

	population := make([]model.Genome, len(initial))
	copy(population, initial)

	bestHistory := make([]float64, 0, m.cfg.Generations)
	diagnostics := make([]model.GenerationDiagnostics, 0, m.cfg.Generations)
	lineage := make([]LineageRecord, 0, len(initial)*(m.cfg.Generations+1))
	for _, genome := range population {
		lineage = append(lineage, LineageRecord{GenomeID: genome.ID, Generation: 0, Operation: "seed"})
	}

	var (
		scored   []ScoredGenome
		champion ScoredGenome
		reached  bool
	)
	for gen := 0; gen < m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}

		seed := m.cfg.Seed + int64(gen)
		var (
			trace scape.Trace
			err   error
		)
		scored, trace, err = m.evaluatePopulation(ctx, population, seed)
		if err != nil {
			return RunResult{}, fmt.Errorf("generation %d: %w", gen+1, err)
		}

		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].Fitness > scored[j].Fitness
		})
		bestHistory = append(bestHistory, scored[0].Fitness)
		if gen == 0 || scored[0].Fitness > champion.Fitness {
			champion = ScoredGenome{Genome: genotype.CloneGenome(scored[0].Genome), Fitness: scored[0].Fitness}
		}

		diag, err := summarizeGeneration(scored, gen+1, seed, trace)
		if err != nil {
			return RunResult{}, fmt.Errorf("generation %d diagnostics: %w", gen+1, err)
		}
		diagnostics = append(diagnostics, diag)
		m.cfg.Logger.Printf("generation=%d best=%.0f mean=%.1f min=%.0f outcome=%s", diag.Generation, diag.BestFitness, diag.MeanFitness, diag.MinFitness, diag.Outcome)
		if m.cfg.OnGeneration != nil {
			m.cfg.OnGeneration(diag)
		}

		if m.cfg.FitnessGoal > 0 && scored[0].Fitness >= m.cfg.FitnessGoal {
			reached = true
			m.cfg.Logger.Printf("fitness goal %.0f reached at generation %d", m.cfg.FitnessGoal, gen+1)
			break
		}
		if gen == m.cfg.Generations-1 {
			break
		}

		var generationLineage []LineageRecord
		population, generationLineage, err = m.nextGeneration(ctx, scored, gen)
		if err != nil {
			return RunResult{}, err
		}
		lineage = append(lineage, generationLineage...)
	}

	return RunResult{
		BestByGeneration:      bestHistory,
		GenerationDiagnostics: diagnostics,
		FinalPopulation:       scored,
		Lineage:               lineage,
		Champion:              champion,
		GoalReached:           reached,
	}, nil
}

func summarizeGeneration(scored []ScoredGenome, generation int, seed int64, trace scape.Trace) (model.GenerationDiagnostics, error) {
	diag := model.GenerationDiagnostics{Generation: generation, Seed: seed}
	if len(scored) == 0 {
		return diag, errors.New("no scored genomes")
	}

	values := make([]float64, len(scored))
	minFitness := scored[0].Fitness
	for i, item := range scored {
		values[i] = item.Fitness
		if item.Fitness < minFitness {
			minFitness = item.Fitness
		}
	}
	mean, std, err := nn.MeanStd(values)
	if err != nil {
		return diag, err
	}

	diag.BestFitness = scored[0].Fitness
	diag.MeanFitness = mean
	diag.MinFitness = minFitness
	diag.StdFitness = std
	diag.BestGenomeID = scored[0].Genome.ID
	if outcomes, ok := trace["outcomes"].([]string); ok {
		diag.Outcome = strings.Join(outcomes, ",")
	}
	if ticks, ok := trace["ticks"].([]int); ok {
		for _, t := range ticks {
			diag.Ticks += t
		}
	}
	return diag, nil
}

// evaluatePopulation compiles every genome and scores them together in the
// scape's shared worlds.
func (m *PopulationMonitor) evaluatePopulation(ctx context.Context, population []model.Genome, seed int64) ([]ScoredGenome, scape.Trace, error) {
	agents := make([]scape.ControllerAgent, len(population))
	for i, genome := range population {
		cortex, err := agent.NewCortex(genome.ID, genome, m.cfg.InputScale)
		if err != nil {
			return nil, nil, err
		}
		agents[i] = cortex
	}

	fitness, trace, err := m.cfg.Scape.EvaluatePopulation(ctx, agents, m.cfg.Mode, seed)
	if err != nil {
		return nil, nil, err
	}
	if len(fitness) != len(population) {
		return nil, nil, fmt.Errorf("scape returned %d fitness values for %d genomes", len(fitness), len(population))
	}

	scored := make([]ScoredGenome, len(population))
	for i := range population {
		scored[i] = ScoredGenome{Genome: population[i], Fitness: float64(fitness[i])}
	}
	return scored, trace, nil
}

func (m *PopulationMonitor) nextGeneration(ctx context.Context, ranked []ScoredGenome, generation int) ([]model.Genome, []LineageRecord, error) {
	next := make([]model.Genome, 0, m.cfg.PopulationSize)
	lineage := make([]LineageRecord, 0, m.cfg.PopulationSize)
	nextGeneration := generation + 1

	for i := 0; i < m.cfg.EliteCount; i++ {
		elite := genotype.CloneGenome(ranked[i].Genome)
		next = append(next, elite)
		lineage = append(lineage, LineageRecord{
			GenomeID:   elite.ID,
			ParentID:   ranked[i].Genome.ID,
			Generation: nextGeneration,
			Operation:  "elite_clone",
		})
	}

	for len(next) < m.cfg.PopulationSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		parent, err := m.cfg.Selector.PickParent(m.rng, ranked, m.cfg.EliteCount)
		if err != nil {
			return nil, nil, err
		}
		child, record, err := m.mutateFromParent(ctx, parent, nextGeneration)
		if err != nil {
			return nil, nil, err
		}
		next = append(next, child)
		lineage = append(lineage, record)
	}

	return next, lineage, nil
}

func (m *PopulationMonitor) mutateFromParent(ctx context.Context, parent model.Genome, generation int) (model.Genome, LineageRecord, error) {
	mutated := genotype.Offspring(parent, NewID(m.rng), generation)
	operationNames := make([]string, 0, m.cfg.MutationsPerChild)
	for step := 0; step < m.cfg.MutationsPerChild; step++ {
		operator := m.chooseMutation()
		next, err := operator.Apply(ctx, mutated)
		if err != nil {
			if errors.Is(err, ErrNoSynapses) || errors.Is(err, ErrNoNeurons) || errors.Is(err, ErrNoMutationChoice) {
				operationNames = append(operationNames, "noop("+operator.Name()+")")
				continue
			}
			return model.Genome{}, LineageRecord{}, fmt.Errorf("%s: %w", operator.Name(), err)
		}
		mutated = next
		operationNames = append(operationNames, operator.Name())
	}

	return mutated, LineageRecord{
		GenomeID:   mutated.ID,
		ParentID:   parent.ID,
		Generation: generation,
		Operation:  strings.Join(operationNames, "+"),
	}, nil
}

func (m *PopulationMonitor) chooseMutation() Operator {
	total := 0.0
	for _, item := range m.cfg.MutationPolicy {
		total += item.Weight
	}
	pick := m.rng.Float64() * total
	acc := 0.0
	for _, item := range m.cfg.MutationPolicy {
		acc += item.Weight
		if pick <= acc && item.Weight > 0 {
			return item.Operator
		}
	}
	return m.cfg.MutationPolicy[len(m.cfg.MutationPolicy)-1].Operator
}
