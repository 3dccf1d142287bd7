package platform

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"dinosim/internal/agent"
	"dinosim/internal/evo"
	"dinosim/internal/model"
	"dinosim/internal/scape"
	"dinosim/internal/sim"
	"dinosim/internal/storage"
)

func smallWorld() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.ScoreCeiling = 300
	return cfg
}

func newStartedPolis(t *testing.T) (*Polis, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	p := NewPolis(Config{Store: store, Scapes: []scape.Scape{scape.DinoScape{World: smallWorld()}}})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return p, store
}

func TestInitValidation(t *testing.T) {
	ctx := context.Background()
	if err := NewPolis(Config{}).Init(ctx); err == nil {
		t.Fatal("expected error without store")
	}
	dup := NewPolis(Config{Store: storage.NewMemoryStore(), Scapes: []scape.Scape{scape.DinoScape{}, scape.DinoScape{}}})
	if err := dup.Init(ctx); err == nil {
		t.Fatal("expected duplicate scape error")
	}

	p, _ := newStartedPolis(t)
	if err := p.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if got := p.RegisteredScapes(); len(got) != 1 || got[0] != "dino" {
		t.Fatalf("unexpected scapes: %v", got)
	}
	if err := p.RegisterScape(scape.DinoScape{}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestEvaluateScriptedAgent(t *testing.T) {
	p, _ := newStartedPolis(t)
	ctx := context.Background()

	never, _, err := p.Evaluate(ctx, "dino", "gt", scape.Named("never", agent.Never{}))
	if err != nil {
		t.Fatalf("evaluate never: %v", err)
	}
	reflex, _, err := p.Evaluate(ctx, "dino", "gt", scape.Named("reflex", agent.Reflex{Distance: 40}))
	if err != nil {
		t.Fatalf("evaluate reflex: %v", err)
	}
	if never <= 0 || reflex <= never {
		t.Fatalf("unexpected fitness ordering: never=%f reflex=%f", never, reflex)
	}

	if _, _, err := p.Evaluate(ctx, "missing", "gt", scape.Named("never", agent.Never{})); err == nil {
		t.Fatal("expected unknown scape error")
	}
	if _, _, err := NewPolis(Config{Store: storage.NewMemoryStore()}).Evaluate(ctx, "dino", "gt", scape.Named("never", agent.Never{})); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestRunEvolutionPersistsRun(t *testing.T) {
	p, store := newStartedPolis(t)
	ctx := context.Background()

	initial, err := evo.SeedPopulation(4, 0, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("seed population: %v", err)
	}
	var seen []model.GenerationDiagnostics
	result, err := p.RunEvolution(ctx, EvolutionConfig{
		RunID:          "run-1",
		ScapeName:      "dino",
		PopulationSize: 4,
		EliteCount:     1,
		Generations:    2,
		Seed:           9,
		InputScale:     agent.InputScale(smallWorld()),
		Initial:        initial,
		OnGeneration:   func(d model.GenerationDiagnostics) { seen = append(seen, d) },
	})
	if err != nil {
		t.Fatalf("run evolution: %v", err)
	}
	if len(result.BestByGeneration) != 2 || len(seen) != 2 {
		t.Fatalf("unexpected generation count: history=%d callbacks=%d", len(result.BestByGeneration), len(seen))
	}
	if len(result.TopFinal) != 4 {
		t.Fatalf("unexpected top final size: %d", len(result.TopFinal))
	}

	history, ok, err := store.GetFitnessHistory(ctx, "run-1")
	if err != nil || !ok || len(history) != 2 {
		t.Fatalf("fitness history not persisted: ok=%t err=%v history=%v", ok, err, history)
	}
	diagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
	if err != nil || !ok || len(diagnostics) != 2 {
		t.Fatalf("diagnostics not persisted: ok=%t err=%v", ok, err)
	}
	summary, ok, err := store.GetRunSummary(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("run summary not persisted: ok=%t err=%v", ok, err)
	}
	if summary.BestGenomeID != result.Champion.Genome.ID || summary.Selection != "elite" || summary.Generations != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.BestFitness < summary.FinalBestFitness {
		t.Fatalf("champion worse than final best: %+v", summary)
	}
	if _, ok, err := store.GetGenome(ctx, summary.BestGenomeID); err != nil || !ok {
		t.Fatalf("champion genome not persisted: ok=%t err=%v", ok, err)
	}
}

func TestRunEvolutionValidation(t *testing.T) {
	p, _ := newStartedPolis(t)
	ctx := context.Background()
	initial, err := evo.SeedPopulation(2, 0, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("seed population: %v", err)
	}

	tests := []struct {
		name string
		cfg  EvolutionConfig
	}{
		{name: "population mismatch", cfg: EvolutionConfig{RunID: "r", ScapeName: "dino", PopulationSize: 3, Generations: 1, Initial: initial}},
		{name: "missing scape name", cfg: EvolutionConfig{RunID: "r", PopulationSize: 2, Generations: 1, Initial: initial}},
		{name: "missing run id", cfg: EvolutionConfig{ScapeName: "dino", PopulationSize: 2, Generations: 1, Initial: initial}},
		{name: "unknown scape", cfg: EvolutionConfig{RunID: "r", ScapeName: "xor", PopulationSize: 2, Generations: 1, Initial: initial}},
		{name: "zero generations", cfg: EvolutionConfig{RunID: "r", ScapeName: "dino", PopulationSize: 2, Initial: initial}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.RunEvolution(ctx, tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResetClearsStore(t *testing.T) {
	p, store := newStartedPolis(t)
	ctx := context.Background()
	if err := store.SaveFitnessHistory(ctx, "old", []float64{1, 2}); err != nil {
		t.Fatalf("save history: %v", err)
	}
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, err := store.GetFitnessHistory(ctx, "old"); err != nil || ok {
		t.Fatalf("history survived reset: ok=%t err=%v", ok, err)
	}
	if !p.Started() || len(p.RegisteredScapes()) != 1 {
		t.Fatal("polis not restarted after reset")
	}
}
