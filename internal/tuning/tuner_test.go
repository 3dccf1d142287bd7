package tuning

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"dinosim/internal/model"
)

func singleWeightGenome(weight float64) model.Genome {
	return model.Genome{
		ID: "g",
		Neurons: []model.Neuron{
			{ID: "i", Activation: "identity"},
			{ID: "o", Activation: "identity"},
		},
		Synapses: []model.Synapse{{ID: "s", From: "i", To: "o", Weight: weight, Enabled: true}},
	}
}

func distanceFitness(_ context.Context, g model.Genome) (float64, error) {
	delta := g.Synapses[0].Weight - 1
	return 1 - delta*delta, nil
}

func TestHillClimberImprovesFitness(t *testing.T) {
	genome := singleWeightGenome(-2)
	tuner := &HillClimber{Rand: rand.New(rand.NewSource(1)), Steps: 6, StepSize: 0.4}

	tuned, report, err := tuner.Tune(context.Background(), genome, 40, distanceFitness)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	after, _ := distanceFitness(context.Background(), tuned)
	if after <= report.StartFitness || report.BestFitness != after {
		t.Fatalf("expected improvement: report=%+v after=%f", report, after)
	}
	if report.Accepted == 0 || report.AttemptsExecuted != 40 || report.Evaluations != 41 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if genome.Synapses[0].Weight != -2 {
		t.Fatal("input genome was modified")
	}
}

func TestHillClimberStopsAtGoal(t *testing.T) {
	tuner := &HillClimber{Rand: rand.New(rand.NewSource(2)), Steps: 1, StepSize: 0.1, GoalFitness: 0.5}

	tuned, report, err := tuner.Tune(context.Background(), singleWeightGenome(1), 10, distanceFitness)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if !report.GoalReached || report.Evaluations != 1 || tuned.Synapses[0].Weight != 1 {
		t.Fatalf("expected immediate goal stop: report=%+v", report)
	}
}

func TestHillClimberWithoutSynapsesOnlyScores(t *testing.T) {
	tuner := &HillClimber{Rand: rand.New(rand.NewSource(1)), Steps: 4, StepSize: 0.2}
	calls := 0
	out, report, err := tuner.Tune(context.Background(), model.Genome{ID: "g"}, 10, func(context.Context, model.Genome) (float64, error) {
		calls++
		return 3, nil
	})
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if out.ID != "g" || calls != 1 || report.AttemptsExecuted != 0 || report.BestFitness != 3 {
		t.Fatalf("unexpected result: calls=%d report=%+v", calls, report)
	}
}

func TestHillClimberValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		name  string
		tuner *HillClimber
	}{
		{name: "nil rand", tuner: &HillClimber{Steps: 1, StepSize: 1}},
		{name: "zero steps", tuner: &HillClimber{Rand: rng, StepSize: 1}},
		{name: "zero step size", tuner: &HillClimber{Rand: rng, Steps: 1}},
		{name: "negative range", tuner: &HillClimber{Rand: rng, Steps: 1, StepSize: 1, PerturbationRange: -1}},
		{name: "negative annealing", tuner: &HillClimber{Rand: rng, Steps: 1, StepSize: 1, AnnealingFactor: -1}},
		{name: "negative min improvement", tuner: &HillClimber{Rand: rng, Steps: 1, StepSize: 1, MinImprovement: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := tc.tuner.Tune(context.Background(), singleWeightGenome(0), 1, distanceFitness); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	valid := &HillClimber{Rand: rng, Steps: 1, StepSize: 1}
	if _, _, err := valid.Tune(context.Background(), singleWeightGenome(0), 1, nil); err == nil {
		t.Fatal("expected error for nil fitness")
	}
}

func TestHillClimberPropagatesFitnessErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	tuner := &HillClimber{Rand: rand.New(rand.NewSource(1)), Steps: 1, StepSize: 1}
	_, _, err := tuner.Tune(context.Background(), singleWeightGenome(0), 5, func(context.Context, model.Genome) (float64, error) {
		calls++
		if calls == 3 {
			return 0, boom
		}
		return 0, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHillClimberHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tuner := &HillClimber{Rand: rand.New(rand.NewSource(1)), Steps: 1, StepSize: 1}
	if _, _, err := tuner.Tune(ctx, singleWeightGenome(0), 5, distanceFitness); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
