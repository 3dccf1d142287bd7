// Package platform owns the store and the scape registry and runs
// persisted training sessions.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"dinosim/internal/evo"
	"dinosim/internal/model"
	"dinosim/internal/scape"
	"dinosim/internal/storage"
)

// TopGenomeCount is how many ranked genomes of the final generation are
// persisted besides the champion.
const TopGenomeCount = 5

var ErrNotStarted = errors.New("polis is not initialized")

type Config struct {
	Store  storage.Store
	Scapes []scape.Scape
	Logger *log.Logger
}

type EvolutionConfig struct {
	RunID             string
	ScapeName         string
	Mode              string
	PopulationSize    int
	EliteCount        int
	Generations       int
	MutationsPerChild int
	Seed              int64
	FitnessGoal       float64
	Selector          evo.Selector
	MutationPolicy    []evo.WeightedMutation
	InputScale        []float64
	Initial           []model.Genome
	OnGeneration      func(model.GenerationDiagnostics)
}

type EvolutionResult struct {
	RunID                 string
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	Champion              evo.ScoredGenome
	TopFinal              []evo.ScoredGenome
	GoalReached           bool
	Summary               model.RunSummary
}

type Polis struct {
	store  storage.Store
	logger *log.Logger
	config Config

	mu      sync.RWMutex
	scapes  map[string]scape.Scape
	started bool
}

func NewPolis(cfg Config) *Polis {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Polis{
		store:  cfg.Store,
		logger: logger,
		config: cfg,
		scapes: make(map[string]scape.Scape),
	}
}

// Init prepares the store and registers the configured scapes. Calling it
// again is a no-op.
func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	scapes := make(map[string]scape.Scape, len(p.config.Scapes))
	for i, s := range p.config.Scapes {
		if s == nil {
			return fmt.Errorf("scape is nil at index %d", i)
		}
		if _, exists := scapes[s.Name()]; exists {
			return fmt.Errorf("duplicate scape: %s", s.Name())
		}
		scapes[s.Name()] = s
	}
	p.scapes = scapes
	p.started = true
	return nil
}

// Reset wipes the store and starts over with the configured scapes.
func (p *Polis) Reset(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	if err := p.store.Reset(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	return p.Init(ctx)
}

func (p *Polis) Store() storage.Store {
	return p.store
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) RegisterScape(s scape.Scape) error {
	if s == nil {
		return fmt.Errorf("scape is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotStarted
	}
	if _, exists := p.scapes[s.Name()]; exists {
		return fmt.Errorf("scape already registered: %s", s.Name())
	}
	p.scapes[s.Name()] = s
	return nil
}

func (p *Polis) GetScape(name string) (scape.Scape, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.scapes[name]
	return s, ok
}

func (p *Polis) RegisteredScapes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.scapes))
	for name := range p.scapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate scores one agent on a registered scape in the given mode.
func (p *Polis) Evaluate(ctx context.Context, scapeName, mode string, agent scape.Agent) (scape.Fitness, scape.Trace, error) {
	if !p.Started() {
		return 0, nil, ErrNotStarted
	}
	target, ok := p.GetScape(scapeName)
	if !ok {
		return 0, nil, fmt.Errorf("scape not registered: %s", scapeName)
	}
	if aware, ok := target.(scape.ModeAwareScape); ok {
		return aware.EvaluateMode(ctx, agent, mode)
	}
	return target.Evaluate(ctx, agent)
}

// RunEvolution trains a population on a registered scape and persists the
// champion, the top of the final generation, the fitness history, the
// per-generation diagnostics and a run summary.
func (p *Polis) RunEvolution(ctx context.Context, cfg EvolutionConfig) (EvolutionResult, error) {
	if len(cfg.Initial) != cfg.PopulationSize {
		return EvolutionResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(cfg.Initial), cfg.PopulationSize)
	}
	if cfg.ScapeName == "" {
		return EvolutionResult{}, fmt.Errorf("scape name is required")
	}
	if cfg.RunID == "" {
		return EvolutionResult{}, fmt.Errorf("run id is required")
	}
	if cfg.EliteCount <= 0 {
		cfg.EliteCount = 1
	}
	if !p.Started() {
		return EvolutionResult{}, ErrNotStarted
	}
	target, ok := p.GetScape(cfg.ScapeName)
	if !ok {
		return EvolutionResult{}, fmt.Errorf("scape not registered: %s", cfg.ScapeName)
	}
	populationScape, ok := target.(scape.PopulationScape)
	if !ok {
		return EvolutionResult{}, fmt.Errorf("scape %s cannot evaluate populations", cfg.ScapeName)
	}

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		Scape:             populationScape,
		Mode:              cfg.Mode,
		MutationPolicy:    cfg.MutationPolicy,
		Selector:          cfg.Selector,
		PopulationSize:    cfg.PopulationSize,
		EliteCount:        cfg.EliteCount,
		Generations:       cfg.Generations,
		MutationsPerChild: cfg.MutationsPerChild,
		Seed:              cfg.Seed,
		FitnessGoal:       cfg.FitnessGoal,
		InputScale:        cfg.InputScale,
		Logger:            p.logger,
		OnGeneration:      cfg.OnGeneration,
	})
	if err != nil {
		return EvolutionResult{}, err
	}

	startedAt := time.Now().UTC()
	p.logger.Printf("run %s started scape=%s pop=%d gens=%d seed=%d", cfg.RunID, cfg.ScapeName, cfg.PopulationSize, cfg.Generations, cfg.Seed)
	result, err := monitor.Run(ctx, cfg.Initial)
	if err != nil {
		return EvolutionResult{}, fmt.Errorf("run %s: %w", cfg.RunID, err)
	}

	topCount := TopGenomeCount
	if len(result.FinalPopulation) < topCount {
		topCount = len(result.FinalPopulation)
	}
	topFinal := append([]evo.ScoredGenome(nil), result.FinalPopulation[:topCount]...)

	if err := p.store.SaveGenome(ctx, result.Champion.Genome); err != nil {
		return EvolutionResult{}, fmt.Errorf("save champion: %w", err)
	}
	for _, scored := range topFinal {
		if err := p.store.SaveGenome(ctx, scored.Genome); err != nil {
			return EvolutionResult{}, fmt.Errorf("save genome %s: %w", scored.Genome.ID, err)
		}
	}
	if err := p.store.SaveFitnessHistory(ctx, cfg.RunID, result.BestByGeneration); err != nil {
		return EvolutionResult{}, err
	}
	if err := p.store.SaveGenerationDiagnostics(ctx, cfg.RunID, result.GenerationDiagnostics); err != nil {
		return EvolutionResult{}, err
	}

	finalBest := 0.0
	if len(result.BestByGeneration) > 0 {
		finalBest = result.BestByGeneration[len(result.BestByGeneration)-1]
	}
	selection := "elite"
	if cfg.Selector != nil {
		selection = cfg.Selector.Name()
	}
	summary := model.RunSummary{
		VersionedRecord:  storage.Versioned(),
		RunID:            cfg.RunID,
		Seed:             cfg.Seed,
		PopulationSize:   cfg.PopulationSize,
		Generations:      len(result.BestByGeneration),
		Selection:        selection,
		BestFitness:      result.Champion.Fitness,
		FinalBestFitness: finalBest,
		BestGenomeID:     result.Champion.Genome.ID,
		GoalReached:      result.GoalReached,
		StartedAt:        startedAt,
		FinishedAt:       time.Now().UTC(),
	}
	if err := p.store.SaveRunSummary(ctx, summary); err != nil {
		return EvolutionResult{}, err
	}
	p.logger.Printf("run %s finished champion=%s best=%.0f goal_reached=%t", cfg.RunID, summary.BestGenomeID, summary.BestFitness, summary.GoalReached)

	return EvolutionResult{
		RunID:                 cfg.RunID,
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: result.GenerationDiagnostics,
		Champion:              result.Champion,
		TopFinal:              topFinal,
		GoalReached:           result.GoalReached,
		Summary:               summary,
	}, nil
}
