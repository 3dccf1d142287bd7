package evo

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"dinosim/internal/agent"
	"dinosim/internal/model"
	"dinosim/internal/scape"
	"dinosim/internal/sim"
)

// weightScape scores each cortex by its raw output on a fixed observation,
// so fitness depends only on the genome and elitism keeps the best.
type weightScape struct {
	calls int
	seeds []int64
	err   error
}

func (s *weightScape) Name() string { return "weights" }

func (s *weightScape) Evaluate(ctx context.Context, a scape.Agent) (scape.Fitness, scape.Trace, error) {
	fitness, trace, err := s.EvaluatePopulation(ctx, []scape.ControllerAgent{a.(scape.ControllerAgent)}, "gt", 0)
	if err != nil {
		return 0, nil, err
	}
	return fitness[0], trace, nil
}

func (s *weightScape) EvaluatePopulation(_ context.Context, agents []scape.ControllerAgent, _ string, seed int64) ([]scape.Fitness, scape.Trace, error) {
	s.calls++
	s.seeds = append(s.seeds, seed)
	if s.err != nil {
		return nil, nil, s.err
	}
	obs := sim.Observation{1, 1, 1, 1, 1, 1, 1}
	out := make([]scape.Fitness, len(agents))
	for i, a := range agents {
		cortex := a.(*agent.Cortex)
		v, err := cortex.Output(obs)
		if err != nil {
			return nil, nil, err
		}
		out[i] = scape.Fitness(v * 1000)
	}
	return out, scape.Trace{"outcomes": []string{"ceiling"}, "ticks": []int{10}}, nil
}

func seeded(t *testing.T, size int) []model.Genome {
	t.Helper()
	population, err := SeedPopulation(size, 0, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatalf("seed population: %v", err)
	}
	return population
}

func TestSeedPopulationIDsAreStablePerSeed(t *testing.T) {
	a := seeded(t, 4)
	b := seeded(t, 4)
	ids := map[string]bool{}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("genome %d id differs across identical seeds: %s vs %s", i, a[i].ID, b[i].ID)
		}
		ids[a[i].ID] = true
		if len(a[i].SensorIDs) != sim.ObservationSize {
			t.Fatalf("unexpected sensor ids: %v", a[i].SensorIDs)
		}
	}
	if len(ids) != 4 {
		t.Fatalf("expected unique ids, got %v", ids)
	}
}

func TestPopulationMonitorElitismKeepsBestMonotonic(t *testing.T) {
	sc := &weightScape{}
	var seen []model.GenerationDiagnostics
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Scape:          sc,
		PopulationSize: 8,
		EliteCount:     2,
		Generations:    6,
		Seed:           7,
		OnGeneration:   func(d model.GenerationDiagnostics) { seen = append(seen, d) },
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}

	result, err := monitor.Run(context.Background(), seeded(t, 8))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.BestByGeneration) != 6 || len(result.GenerationDiagnostics) != 6 || len(seen) != 6 {
		t.Fatalf("unexpected history lengths: best=%d diag=%d seen=%d", len(result.BestByGeneration), len(result.GenerationDiagnostics), len(seen))
	}
	for i := 1; i < len(result.BestByGeneration); i++ {
		if result.BestByGeneration[i] < result.BestByGeneration[i-1] {
			t.Fatalf("best fitness regressed: %v", result.BestByGeneration)
		}
	}
	for i, seed := range sc.seeds {
		if seed != 7+int64(i) {
			t.Fatalf("generation %d seed: got=%d want=%d", i, seed, 7+int64(i))
		}
	}

	last := result.GenerationDiagnostics[5]
	if last.BestFitness != result.BestByGeneration[5] || last.MinFitness > last.MeanFitness || last.MeanFitness > last.BestFitness {
		t.Fatalf("inconsistent diagnostics: %+v", last)
	}
	if last.Outcome != "ceiling" || last.Ticks != 10 || last.BestGenomeID != result.FinalPopulation[0].Genome.ID {
		t.Fatalf("diagnostics missing trace data: %+v", last)
	}
	if result.Champion.Fitness != result.BestByGeneration[5] {
		t.Fatalf("champion fitness %f, want %f", result.Champion.Fitness, result.BestByGeneration[5])
	}
	// Seeds plus five generations of offspring.
	if len(result.Lineage) != 8+5*8 {
		t.Fatalf("unexpected lineage length: %d", len(result.Lineage))
	}
	if result.GoalReached {
		t.Fatal("no goal was configured")
	}
}

func TestPopulationMonitorStopsAtFitnessGoal(t *testing.T) {
	sc := &weightScape{}
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Scape:          sc,
		PopulationSize: 4,
		EliteCount:     1,
		Generations:    50,
		Seed:           1,
		FitnessGoal:    1e-6,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	result, err := monitor.Run(context.Background(), seeded(t, 4))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.GoalReached || len(result.BestByGeneration) != 1 || sc.calls != 1 {
		t.Fatalf("expected stop after first generation: reached=%t generations=%d calls=%d", result.GoalReached, len(result.BestByGeneration), sc.calls)
	}
}

func TestPopulationMonitorPropagatesScapeError(t *testing.T) {
	boom := errors.New("boom")
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Scape:          &weightScape{err: boom},
		PopulationSize: 2,
		EliteCount:     1,
		Generations:    2,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	if _, err := monitor.Run(context.Background(), seeded(t, 2)); !errors.Is(err, boom) {
		t.Fatalf("expected scape error, got %v", err)
	}
	if _, err := monitor.Run(context.Background(), seeded(t, 3)); err == nil {
		t.Fatal("expected population size mismatch")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := monitor.Run(ctx, seeded(t, 2)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewPopulationMonitorValidation(t *testing.T) {
	valid := MonitorConfig{Scape: &weightScape{}, PopulationSize: 4, EliteCount: 1, Generations: 1}
	tests := []struct {
		name   string
		mutate func(*MonitorConfig)
	}{
		{name: "no scape", mutate: func(c *MonitorConfig) { c.Scape = nil }},
		{name: "no population", mutate: func(c *MonitorConfig) { c.PopulationSize = 0 }},
		{name: "elite too large", mutate: func(c *MonitorConfig) { c.EliteCount = 5 }},
		{name: "no generations", mutate: func(c *MonitorConfig) { c.Generations = 0 }},
		{name: "negative goal", mutate: func(c *MonitorConfig) { c.FitnessGoal = -1 }},
		{name: "nil operator", mutate: func(c *MonitorConfig) { c.MutationPolicy = []WeightedMutation{{Weight: 1}} }},
		{name: "zero weights", mutate: func(c *MonitorConfig) {
			c.MutationPolicy = []WeightedMutation{{Operator: &PerturbRandomWeight{}, Weight: 0}}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if _, err := NewPopulationMonitor(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestPopulationMonitorTrainsOnDinoScape(t *testing.T) {
	world := sim.DefaultConfig()
	world.ScoreCeiling = 300
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Scape:          scape.DinoScape{World: world},
		Selector:       TournamentSelector{},
		PopulationSize: 6,
		EliteCount:     2,
		Generations:    3,
		Seed:           11,
		InputScale:     agent.InputScale(world),
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	population, err := SeedPopulation(6, 2, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("seed population: %v", err)
	}
	result, err := monitor.Run(context.Background(), population)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, item := range result.FinalPopulation {
		if item.Fitness <= 0 || item.Fitness > 300 {
			t.Fatalf("fitness out of range: %f", item.Fitness)
		}
	}
}

func TestSummarizeGeneration(t *testing.T) {
	scored := []ScoredGenome{
		{Genome: model.Genome{ID: "best"}, Fitness: 30},
		{Genome: model.Genome{ID: "mid"}, Fitness: 20},
		{Genome: model.Genome{ID: "worst"}, Fitness: 10},
	}
	trace := scape.Trace{"outcomes": []string{"extinct", "ceiling"}, "ticks": []int{12, 30}}

	diag, err := summarizeGeneration(scored, 4, 77, trace)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if diag.Generation != 4 || diag.Seed != 77 || diag.BestGenomeID != "best" {
		t.Fatalf("unexpected identity fields: %+v", diag)
	}
	if diag.BestFitness != 30 || diag.MeanFitness != 20 || diag.MinFitness != 10 {
		t.Fatalf("unexpected fitness summary: %+v", diag)
	}
	if diag.StdFitness < 8.16 || diag.StdFitness > 8.17 {
		t.Fatalf("unexpected std: got=%f want~8.165", diag.StdFitness)
	}
	if diag.Outcome != "extinct,ceiling" || diag.Ticks != 42 {
		t.Fatalf("unexpected trace fields: %+v", diag)
	}

	if _, err := summarizeGeneration(nil, 1, 0, nil); err == nil {
		t.Fatal("expected error for an empty generation")
	}
}
