package main

import (
	"encoding/json"
	"fmt"
	"os"

	"dinosim/internal/sim"
	"dinosim/pkg/dinosim"
)

// fileConfig is the JSON config shared by the commands:
//
//	{"world": {"seed": 3, "score_ceiling": 5000, ...},
//	 "train": {"population": 50, "generations": 50, ...},
//	 "verbose": true}
type fileConfig struct {
	World   sim.Config
	Train   dinosim.TrainRequest
	Verbose bool
}

func defaultFileConfig() fileConfig {
	return fileConfig{World: sim.DefaultConfig()}
}

func loadOrDefaultConfig(path string) (fileConfig, error) {
	if path == "" {
		return defaultFileConfig(), nil
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func loadConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fileConfig{}, err
	}

	cfg := defaultFileConfig()
	if world, ok := raw["world"].(map[string]any); ok {
		if err := applyWorld(&cfg.World, world); err != nil {
			return fileConfig{}, err
		}
	}
	if train, ok := raw["train"].(map[string]any); ok {
		applyTrain(&cfg.Train, train)
	}
	if v, ok := asBool(raw["verbose"]); ok {
		cfg.Verbose = v
	}
	return cfg, nil
}

func applyWorld(cfg *sim.Config, raw map[string]any) error {
	if v, ok := asString(raw["mode"]); ok {
		mode, err := sim.ParseMode(v)
		if err != nil {
			return err
		}
		cfg.Mode = mode
	}
	if v, ok := asInt(raw["actors"]); ok {
		cfg.Actors = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		cfg.Seed = v
	}
	if v, ok := asFloat64(raw["view_width"]); ok {
		cfg.ViewWidth = v
	}
	if v, ok := asFloat64(raw["floor_y"]); ok {
		cfg.FloorY = v
	}
	if v, ok := asFloat64(raw["actor_x"]); ok {
		cfg.ActorX = v
	}
	if v, ok := asFloat64(raw["actor_size"]); ok {
		cfg.ActorSize = v
	}
	if v, ok := asFloat64(raw["gravity"]); ok {
		cfg.Gravity = v
	}
	if v, ok := asFloat64(raw["jump_impulse"]); ok {
		cfg.JumpImpulse = v
	}
	if v, ok := asFloat64(raw["obstacle_speed"]); ok {
		cfg.ObstacleSpeed = v
	}
	if v, ok := asInt(raw["pool_size"]); ok {
		cfg.PoolSize = v
	}
	if v, ok := asFloat64(raw["min_separation"]); ok {
		cfg.MinSeparation = v
	}
	if v, ok := asInt(raw["jitter"]); ok {
		cfg.Jitter = v
	}
	if v, ok := asInt(raw["min_width"]); ok {
		cfg.MinWidth = v
	}
	if v, ok := asInt(raw["max_width"]); ok {
		cfg.MaxWidth = v
	}
	if v, ok := asInt(raw["min_height"]); ok {
		cfg.MinHeight = v
	}
	if v, ok := asInt(raw["max_height"]); ok {
		cfg.MaxHeight = v
	}
	if v, ok := asFloat64(raw["first_obstacle_after"]); ok {
		cfg.FirstObstacleAfter = v
	}
	if v, ok := asInt(raw["score_ceiling"]); ok {
		cfg.ScoreCeiling = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		cfg.Workers = v
	}
	return nil
}

func applyTrain(req *dinosim.TrainRequest, raw map[string]any) {
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asInt(raw["population"]); ok {
		req.Population = v
	}
	if v, ok := asInt(raw["generations"]); ok {
		req.Generations = v
	}
	if v, ok := asInt(raw["elite_count"]); ok {
		req.EliteCount = v
	}
	if v, ok := asInt(raw["mutations_per_child"]); ok {
		req.MutationsPerChild = v
	}
	if v, ok := asInt(raw["hidden"]); ok {
		req.Hidden = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asFloat64(raw["fitness_goal"]); ok {
		req.FitnessGoal = v
	}
	if v, ok := asString(raw["selection"]); ok {
		req.Selection = v
	}
}

// overrideTrainFromFlags applies only the flags the user actually set.
func overrideTrainFromFlags(req *dinosim.TrainRequest, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "pop":
			req.Population = v.(int)
		case "gens":
			req.Generations = v.(int)
		case "elite":
			req.EliteCount = v.(int)
		case "mutations":
			req.MutationsPerChild = v.(int)
		case "hidden":
			req.Hidden = v.(int)
		case "seed":
			req.Seed = v.(int64)
		case "fitness-goal":
			req.FitnessGoal = v.(float64)
		case "selection":
			req.Selection = v.(string)
		}
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
