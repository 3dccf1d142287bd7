// Package dinosim is the programmatic entry point for training, evaluating
// and inspecting obstacle-course controllers.
package dinosim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"

	"dinosim/internal/agent"
	"dinosim/internal/evo"
	"dinosim/internal/genotype"
	"dinosim/internal/model"
	"dinosim/internal/platform"
	"dinosim/internal/scape"
	"dinosim/internal/sim"
	"dinosim/internal/stats"
	"dinosim/internal/storage"
	"dinosim/internal/tuning"
)

const (
	defaultDBPath      = "dinosim.db"
	defaultPopulation  = 50
	defaultGenerations = 50
	defaultRunsLimit   = 20

	defaultTuneAttempts = 10
	defaultTuneSteps    = 3
	defaultTuneStepSize = 0.5

	ScapeName = "dino"
)

type Options struct {
	StoreKind string
	DBPath    string
	// World overrides the default obstacle course for training and evaluation.
	World  *sim.Config
	Logger *log.Logger
}

type Client struct {
	store  storage.Store
	world  sim.Config
	logger *log.Logger

	mu    sync.Mutex
	polis *platform.Polis
}

type TrainRequest struct {
	RunID             string
	Population        int
	Generations       int
	EliteCount        int
	MutationsPerChild int
	Hidden            int
	Seed              int64
	FitnessGoal       float64
	Selection         string
	OnGeneration      func(model.GenerationDiagnostics)
}

type TrainSummary struct {
	RunID            string    `json:"run_id"`
	BestByGeneration []float64 `json:"best_by_generation"`
	BestFitness      float64   `json:"best_fitness"`
	FinalBestFitness float64   `json:"final_best_fitness"`
	ChampionID       string    `json:"champion_id"`
	GoalReached      bool      `json:"goal_reached"`
}

// AgentRequest names the controller to evaluate: a stored genome, the
// champion of the latest run, or a scripted controller.
type AgentRequest struct {
	GenomeID string
	Latest   bool
	Scripted string
}

type EvaluateRequest struct {
	Agent AgentRequest
	Mode  string
}

type EvaluateSummary struct {
	AgentID string      `json:"agent_id"`
	Mode    string      `json:"mode"`
	Fitness float64     `json:"fitness"`
	Trace   scape.Trace `json:"trace"`
}

type RunsRequest struct {
	Limit int
}

type FitnessHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

// TuneRequest refines a stored genome's weights by hill climbing against
// the given evaluation mode. Scripted agents cannot be tuned.
type TuneRequest struct {
	Agent       AgentRequest
	Mode        string
	Attempts    int
	Steps       int
	StepSize    float64
	FitnessGoal float64
	Seed        int64
}

type TuneSummary struct {
	ParentID string        `json:"parent_id"`
	GenomeID string        `json:"genome_id"`
	Mode     string        `json:"mode"`
	Saved    bool          `json:"saved"`
	Report   tuning.Report `json:"report"`
}

// ExportRequest writes a run's records under Dir/<run id>.
type ExportRequest struct {
	RunID  string
	Latest bool
	Dir    string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	world := sim.DefaultConfig()
	if opts.World != nil {
		world = *opts.World
	}
	world.Mode = sim.ModeAutomated
	if err := world.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{store: store, world: world, logger: logger}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

func (c *Client) Reset(ctx context.Context) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.Reset(ctx)
}

// World is the obstacle course this client trains and evaluates on.
func (c *Client) World() sim.Config {
	return c.world
}

func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if req.Population <= 0 {
		req.Population = defaultPopulation
	}
	if req.Generations <= 0 {
		req.Generations = defaultGenerations
	}
	if req.EliteCount <= 0 {
		req.EliteCount = 1
	}
	if req.Hidden < 0 {
		return TrainSummary{}, errors.New("hidden size must be >= 0")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	selector, err := evo.SelectorFromName(req.Selection)
	if err != nil {
		return TrainSummary{}, err
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return TrainSummary{}, err
	}
	initial, err := evo.SeedPopulation(req.Population, req.Hidden, rand.New(rand.NewSource(req.Seed)))
	if err != nil {
		return TrainSummary{}, err
	}

	result, err := p.RunEvolution(ctx, platform.EvolutionConfig{
		RunID:             req.RunID,
		ScapeName:         ScapeName,
		Mode:              "gt",
		PopulationSize:    req.Population,
		EliteCount:        req.EliteCount,
		Generations:       req.Generations,
		MutationsPerChild: req.MutationsPerChild,
		Seed:              req.Seed,
		FitnessGoal:       req.FitnessGoal,
		Selector:          selector,
		InputScale:        agent.InputScale(c.world),
		Initial:           initial,
		OnGeneration:      req.OnGeneration,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	return TrainSummary{
		RunID:            result.RunID,
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		BestFitness:      result.Summary.BestFitness,
		FinalBestFitness: result.Summary.FinalBestFitness,
		ChampionID:       result.Summary.BestGenomeID,
		GoalReached:      result.GoalReached,
	}, nil
}

// Controller resolves an AgentRequest into a controller ready for an
// episode on this client's world.
func (c *Client) Controller(ctx context.Context, req AgentRequest) (scape.ControllerAgent, error) {
	controllers, err := c.Controllers(ctx, req, 1)
	if err != nil {
		return nil, err
	}
	return controllers[0], nil
}

// Controllers resolves an AgentRequest into n independent controllers, one
// per actor of a shared world.
func (c *Client) Controllers(ctx context.Context, req AgentRequest, n int) ([]scape.ControllerAgent, error) {
	if n <= 0 {
		return nil, errors.New("controller count must be > 0")
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	selected := 0
	for _, set := range []bool{req.GenomeID != "", req.Latest, req.Scripted != ""} {
		if set {
			selected++
		}
	}
	if selected != 1 {
		return nil, errors.New("choose exactly one of genome id, latest or scripted controller")
	}

	out := make([]scape.ControllerAgent, 0, n)
	if req.Scripted != "" {
		name := strings.ToLower(req.Scripted)
		controller, err := agent.Scripted(name)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			out = append(out, scape.Named("scripted:"+name, controller))
		}
		return out, nil
	}

	genome, err := c.resolveGenome(ctx, req)
	if err != nil {
		return nil, err
	}
	scale := agent.InputScale(c.world)
	for i := 0; i < n; i++ {
		cortex, err := agent.NewCortex(genome.ID, genome, scale)
		if err != nil {
			return nil, err
		}
		out = append(out, cortex)
	}
	return out, nil
}

// Tune hill-climbs the agent's weights and stores the result as a child of
// the original genome when it improves on it.
func (c *Client) Tune(ctx context.Context, req TuneRequest) (TuneSummary, error) {
	if req.Agent.Scripted != "" {
		return TuneSummary{}, errors.New("scripted controllers cannot be tuned")
	}
	if req.Agent.GenomeID != "" && req.Agent.Latest {
		return TuneSummary{}, errors.New("choose exactly one of genome id or latest")
	}
	if req.Agent.GenomeID == "" && !req.Agent.Latest {
		return TuneSummary{}, errors.New("genome id or latest is required")
	}
	if req.Mode == "" {
		req.Mode = "validation"
	}
	if req.Attempts <= 0 {
		req.Attempts = defaultTuneAttempts
	}
	if req.Steps <= 0 {
		req.Steps = defaultTuneSteps
	}
	if req.StepSize <= 0 {
		req.StepSize = defaultTuneStepSize
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return TuneSummary{}, err
	}
	parent, err := c.resolveGenome(ctx, req.Agent)
	if err != nil {
		return TuneSummary{}, err
	}

	scale := agent.InputScale(c.world)
	fitness := func(ctx context.Context, genome model.Genome) (float64, error) {
		cortex, err := agent.NewCortex(genome.ID, genome, scale)
		if err != nil {
			return 0, err
		}
		f, _, err := p.Evaluate(ctx, ScapeName, req.Mode, cortex)
		return float64(f), err
	}
	rng := rand.New(rand.NewSource(req.Seed))
	climber := &tuning.HillClimber{
		Rand:        rng,
		Steps:       req.Steps,
		StepSize:    req.StepSize,
		GoalFitness: req.FitnessGoal,
	}
	tuned, report, err := climber.Tune(ctx, parent, req.Attempts, fitness)
	if err != nil {
		return TuneSummary{}, err
	}

	summary := TuneSummary{ParentID: parent.ID, GenomeID: parent.ID, Mode: req.Mode, Report: report}
	if report.Accepted == 0 {
		return summary, nil
	}
	child := genotype.Offspring(tuned, evo.NewID(rng), parent.Generation)
	if err := c.store.SaveGenome(ctx, child); err != nil {
		return TuneSummary{}, err
	}
	c.logger.Printf("tuned genome=%s parent=%s fitness=%.1f->%.1f", child.ID, parent.ID, report.StartFitness, report.BestFitness)
	summary.GenomeID = child.ID
	summary.Saved = true
	return summary, nil
}

func (c *Client) resolveGenome(ctx context.Context, req AgentRequest) (model.Genome, error) {
	genomeID := req.GenomeID
	if req.Latest {
		summaries, err := c.store.ListRunSummaries(ctx)
		if err != nil {
			return model.Genome{}, err
		}
		if len(summaries) == 0 {
			return model.Genome{}, errors.New("no runs available")
		}
		genomeID = summaries[0].BestGenomeID
	}
	genome, ok, err := c.store.GetGenome(ctx, genomeID)
	if err != nil {
		return model.Genome{}, err
	}
	if !ok {
		return model.Genome{}, fmt.Errorf("genome not found: %s", genomeID)
	}
	return genome, nil
}

func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	if req.Mode == "" {
		req.Mode = "test"
	}
	controller, err := c.Controller(ctx, req.Agent)
	if err != nil {
		return EvaluateSummary{}, err
	}
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return EvaluateSummary{}, err
	}
	fitness, trace, err := p.Evaluate(ctx, ScapeName, req.Mode, controller)
	if err != nil {
		return EvaluateSummary{}, err
	}
	return EvaluateSummary{
		AgentID: controller.ID(),
		Mode:    req.Mode,
		Fitness: float64(fitness),
		Trace:   trace,
	}, nil
}

// Runs lists run summaries, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunSummary, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	summaries, err := c.store.ListRunSummaries(ctx)
	if err != nil {
		return nil, err
	}
	if len(summaries) > req.Limit {
		summaries = summaries[:req.Limit]
	}
	return summaries, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req FitnessHistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	return append([]model.GenerationDiagnostics(nil), diagnostics...), nil
}

// Export writes the run summary, per-generation diagnostics and champion
// genome to disk and returns the run directory.
func (c *Client) Export(ctx context.Context, req ExportRequest) (string, error) {
	if strings.TrimSpace(req.Dir) == "" {
		return "", errors.New("export dir is required")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return "", err
	}
	summary, ok, err := c.store.GetRunSummary(ctx, runID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("run not found: %s", runID)
	}
	diagnostics, _, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return "", err
	}

	artifacts := stats.RunArtifacts{Summary: summary, Diagnostics: diagnostics}
	if summary.BestGenomeID != "" {
		champion, ok, err := c.store.GetGenome(ctx, summary.BestGenomeID)
		if err != nil {
			return "", err
		}
		if ok {
			artifacts.Champion = &champion
		}
	}
	return stats.WriteRunArtifacts(req.Dir, artifacts)
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return "", err
	}
	if latest {
		summaries, err := c.store.ListRunSummaries(ctx)
		if err != nil {
			return "", err
		}
		if len(summaries) == 0 {
			return "", errors.New("no runs available")
		}
		return summaries[0].RunID, nil
	}
	if runID == "" {
		return "", errors.New("run id or latest is required")
	}
	return runID, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{
		Store:  c.store,
		Scapes: []scape.Scape{scape.DinoScape{World: c.world, Logger: c.logger}},
		Logger: c.logger,
	})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return p, nil
}
