package tuning

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"dinosim/internal/genotype"
	"dinosim/internal/model"
	"dinosim/internal/nn"
)

type FitnessFn func(ctx context.Context, genome model.Genome) (float64, error)

type Report struct {
	AttemptsPlanned  int     `json:"attempts_planned"`
	AttemptsExecuted int     `json:"attempts_executed"`
	Evaluations      int     `json:"evaluations"`
	Accepted         int     `json:"accepted"`
	StartFitness     float64 `json:"start_fitness"`
	BestFitness      float64 `json:"best_fitness"`
	GoalReached      bool    `json:"goal_reached"`
}

// HillClimber refines a trained genome's synapse weights in place. Each
// attempt perturbs Steps random weights of the best genome so far, with the
// spread shrinking by AnnealingFactor per step, and keeps the candidate only
// if it beats the incumbent by more than MinImprovement.
type HillClimber struct {
	Rand              *rand.Rand
	Steps             int
	StepSize          float64
	PerturbationRange float64
	AnnealingFactor   float64
	MinImprovement    float64
	GoalFitness       float64
}

func (h *HillClimber) Name() string {
	return "hill_climb"
}

func (h *HillClimber) validate() error {
	switch {
	case h == nil || h.Rand == nil:
		return errors.New("random source is required")
	case h.Steps <= 0:
		return errors.New("steps must be > 0")
	case h.StepSize <= 0:
		return errors.New("step size must be > 0")
	case h.PerturbationRange < 0:
		return errors.New("perturbation range must be >= 0")
	case h.AnnealingFactor < 0:
		return errors.New("annealing factor must be >= 0")
	case h.MinImprovement < 0:
		return errors.New("min improvement must be >= 0")
	}
	return nil
}

func (h *HillClimber) Tune(ctx context.Context, genome model.Genome, attempts int, fitness FitnessFn) (model.Genome, Report, error) {
	report := Report{AttemptsPlanned: attempts}
	if err := ctx.Err(); err != nil {
		return model.Genome{}, report, err
	}
	if err := h.validate(); err != nil {
		return model.Genome{}, report, err
	}
	if fitness == nil {
		return model.Genome{}, report, errors.New("fitness function is required")
	}

	best := genotype.CloneGenome(genome)
	bestFitness, err := fitness(ctx, best)
	if err != nil {
		return model.Genome{}, report, err
	}
	report.Evaluations++
	report.StartFitness = bestFitness
	report.BestFitness = bestFitness
	if h.goalReached(bestFitness) {
		report.GoalReached = true
		return best, report, nil
	}
	if attempts <= 0 || len(best.Synapses) == 0 {
		return best, report, nil
	}

	perturbationRange := h.PerturbationRange
	if perturbationRange == 0 {
		perturbationRange = 1
	}
	annealing := h.AnnealingFactor
	if annealing == 0 {
		annealing = 1
	}

	for a := 0; a < attempts; a++ {
		candidate, err := h.perturb(ctx, best, perturbationRange, annealing)
		if err != nil {
			return model.Genome{}, report, err
		}
		candidateFitness, err := fitness(ctx, candidate)
		if err != nil {
			return model.Genome{}, report, err
		}
		report.AttemptsExecuted++
		report.Evaluations++
		if candidateFitness > bestFitness+h.MinImprovement {
			best = candidate
			bestFitness = candidateFitness
			report.Accepted++
		}
		if h.goalReached(bestFitness) {
			report.GoalReached = true
			break
		}
	}
	report.BestFitness = bestFitness
	return best, report, nil
}

func (h *HillClimber) goalReached(fitness float64) bool {
	return h.GoalFitness > 0 && fitness >= h.GoalFitness
}

func (h *HillClimber) perturb(ctx context.Context, base model.Genome, perturbationRange, annealing float64) (model.Genome, error) {
	candidate := genotype.CloneGenome(base)
	for s := 0; s < h.Steps; s++ {
		if err := ctx.Err(); err != nil {
			return model.Genome{}, err
		}
		idx := h.Rand.Intn(len(candidate.Synapses))
		spread := h.StepSize * perturbationRange * math.Pow(annealing, float64(s))
		candidate.Synapses[idx].Weight = nn.Saturation(candidate.Synapses[idx].Weight + (h.Rand.Float64()*2-1)*spread)
	}
	return candidate, nil
}
