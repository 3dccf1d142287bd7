package scape

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"dinosim/internal/sim"
)

const (
	validationSeedOffset = 1_000_000
	testSeedOffset       = 2_000_000
)

// DinoScape scores controllers by how long they survive the obstacle course.
// A zero World means sim.DefaultConfig.
type DinoScape struct {
	World  sim.Config
	Logger *log.Logger
	// Sink, when set, receives every frame of every evaluated episode.
	Sink sim.Sink
}

func (DinoScape) Name() string {
	return "dino"
}

func (s DinoScape) Evaluate(ctx context.Context, agent Agent) (Fitness, Trace, error) {
	return s.EvaluateMode(ctx, agent, "gt")
}

func (s DinoScape) EvaluateMode(ctx context.Context, agent Agent, mode string) (Fitness, Trace, error) {
	controller, ok := agent.(ControllerAgent)
	if !ok {
		return 0, nil, fmt.Errorf("agent %s does not implement a controller", agent.ID())
	}
	fitness, trace, err := s.EvaluatePopulation(ctx, []ControllerAgent{controller}, mode, s.world().Seed)
	if err != nil {
		return 0, nil, err
	}
	return fitness[0], trace, nil
}

type dinoModeConfig struct {
	mode       string
	episodes   int
	seedOffset int64
	worstCase  bool
}

func dinoConfigForMode(mode string) (dinoModeConfig, error) {
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", "gt":
		return dinoModeConfig{mode: "gt", episodes: 1}, nil
	case "validation":
		return dinoModeConfig{mode: "validation", episodes: 3, seedOffset: validationSeedOffset}, nil
	case "test":
		return dinoModeConfig{mode: "test", episodes: 5, seedOffset: testSeedOffset}, nil
	case "benchmark":
		return dinoModeConfig{mode: "benchmark", episodes: 5, seedOffset: testSeedOffset, worstCase: true}, nil
	default:
		return dinoModeConfig{}, fmt.Errorf("unsupported dino mode: %s", mode)
	}
}

func (s DinoScape) world() sim.Config {
	if s.World == (sim.Config{}) {
		return sim.DefaultConfig()
	}
	return s.World
}

func (s DinoScape) logger() *log.Logger {
	if s.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return s.Logger
}

// EvaluatePopulation runs the mode's episodes with all agents sharing each
// world. Per-agent fitness is the mean score across episodes, or the minimum
// in benchmark mode.
func (s DinoScape) EvaluatePopulation(ctx context.Context, agents []ControllerAgent, mode string, seed int64) ([]Fitness, Trace, error) {
	cfg, err := dinoConfigForMode(mode)
	if err != nil {
		return nil, nil, err
	}
	if len(agents) == 0 {
		return nil, nil, fmt.Errorf("dino scape needs at least one agent")
	}

	world := s.world()
	world.Mode = sim.ModeAutomated
	world.Actors = len(agents)
	controllers := make([]sim.Controller, len(agents))
	for i, agent := range agents {
		controllers[i] = agent
	}

	totals := make([]float64, len(agents))
	worst := make([]float64, len(agents))
	outcomes := make([]string, 0, cfg.episodes)
	ticks := make([]int, 0, cfg.episodes)
	best := 0
	for k := 0; k < cfg.episodes; k++ {
		world.Seed = seed + cfg.seedOffset + int64(k)
		episode, err := sim.New(world, sim.Options{Controllers: controllers, Logger: s.logger()})
		if err != nil {
			return nil, nil, err
		}
		result, err := episode.Run(ctx, nil, s.Sink, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%s episode %d: %w", cfg.mode, k, err)
		}
		for i, score := range result.Scores {
			totals[i] += float64(score)
			if k == 0 || float64(score) < worst[i] {
				worst[i] = float64(score)
			}
		}
		outcomes = append(outcomes, string(result.Outcome))
		ticks = append(ticks, result.Ticks)
		if result.BestScore > best {
			best = result.BestScore
		}
	}

	fitness := make([]Fitness, len(agents))
	for i := range fitness {
		if cfg.worstCase {
			fitness[i] = Fitness(worst[i])
		} else {
			fitness[i] = Fitness(totals[i] / float64(cfg.episodes))
		}
	}
	return fitness, Trace{
		"mode":       cfg.mode,
		"episodes":   cfg.episodes,
		"outcomes":   outcomes,
		"ticks":      ticks,
		"best_score": best,
		"ceiling":    world.ScoreCeiling,
	}, nil
}
