package sim

import (
	"errors"
	"fmt"
)

const (
	// SensorWindow is the number of obstacles an observation describes.
	SensorWindow = 3
	// ObservationSize is the fixed observation dimensionality: K distances, K heights, on-ground flag.
	ObservationSize = 2*SensorWindow + 1

	// DefaultObstacleSpeed is the horizontal scroll speed in units per tick.
	DefaultObstacleSpeed = 5
	// DefaultTickRate is the wall-clock pace used when a human is playing.
	DefaultTickRate = 60
	// DefaultScoreCeiling stops automated episodes whose survivors never die.
	DefaultScoreCeiling = 12000
)

var ErrInvalidConfig = errors.New("invalid world config")

type Mode int

const (
	ModeHuman Mode = iota
	ModeAutomated
)

func (m Mode) String() string {
	switch m {
	case ModeHuman:
		return "human"
	case ModeAutomated:
		return "automated"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "human":
		return ModeHuman, nil
	case "automated", "auto":
		return ModeAutomated, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, name)
	}
}

// Config describes one world. It is a plain value; every episode gets its own copy.
type Config struct {
	Mode   Mode  `json:"mode"`
	Actors int   `json:"actors"`
	Seed   int64 `json:"seed"`

	ViewWidth float64 `json:"view_width"`
	FloorY    float64 `json:"floor_y"`
	ActorX    float64 `json:"actor_x"`
	ActorSize float64 `json:"actor_size"`

	Gravity       float64 `json:"gravity"`
	JumpImpulse   float64 `json:"jump_impulse"`
	ObstacleSpeed float64 `json:"obstacle_speed"`

	PoolSize           int     `json:"pool_size"`
	MinSeparation      float64 `json:"min_separation"`
	Jitter             int     `json:"jitter"`
	MinWidth           int     `json:"min_width"`
	MaxWidth           int     `json:"max_width"`
	MinHeight          int     `json:"min_height"`
	MaxHeight          int     `json:"max_height"`
	FirstObstacleAfter float64 `json:"first_obstacle_after"`

	ScoreCeiling int `json:"score_ceiling"`
	Workers      int `json:"workers"`
}

func DefaultConfig() Config {
	return Config{
		Mode:               ModeAutomated,
		Actors:             1,
		Seed:               1,
		ViewWidth:          800,
		FloorY:             300,
		ActorX:             50,
		ActorSize:          30,
		Gravity:            1,
		JumpImpulse:        -18,
		ObstacleSpeed:      DefaultObstacleSpeed,
		PoolSize:           3,
		MinSeparation:      160,
		Jitter:             100,
		MinWidth:           20,
		MaxWidth:           50,
		MinHeight:          20,
		MaxHeight:          100,
		FirstObstacleAfter: 0,
		ScoreCeiling:       DefaultScoreCeiling,
		Workers:            1,
	}
}

// Ground is the actor's resting Y (top edge) when standing on the floor.
func (c Config) Ground() float64 {
	return c.FloorY - c.ActorSize
}

// SentinelDistance pads observation slots that have no obstacle ahead.
func (c Config) SentinelDistance() float64 {
	return c.ViewWidth
}

func (c Config) Validate() error {
	switch {
	case c.Mode != ModeHuman && c.Mode != ModeAutomated:
		return invalid("unknown mode %d", int(c.Mode))
	case c.Actors <= 0:
		return invalid("actors must be > 0, got %d", c.Actors)
	case c.Mode == ModeHuman && c.Actors != 1:
		return invalid("human mode drives exactly one actor, got %d", c.Actors)
	case c.ViewWidth <= 0:
		return invalid("view width must be > 0")
	case c.ActorSize <= 0:
		return invalid("actor size must be > 0")
	case c.FloorY <= c.ActorSize:
		return invalid("floor y must exceed actor size")
	case c.Gravity <= 0:
		return invalid("gravity must be > 0")
	case c.JumpImpulse >= 0:
		return invalid("jump impulse must be < 0 (upwards)")
	case c.ObstacleSpeed <= 0:
		return invalid("obstacle speed must be > 0")
	case c.PoolSize < SensorWindow:
		return invalid("pool size %d is smaller than sensor window %d", c.PoolSize, SensorWindow)
	case c.MinSeparation <= 0:
		return invalid("min separation must be > 0")
	case c.ObstacleSpeed >= c.MinSeparation:
		return invalid("obstacle speed %.1f must be below min separation %.1f", c.ObstacleSpeed, c.MinSeparation)
	case c.Jitter < 0:
		return invalid("jitter must be >= 0")
	case c.MinWidth <= 0 || c.MaxWidth < c.MinWidth:
		return invalid("obstacle width range [%d, %d] is invalid", c.MinWidth, c.MaxWidth)
	case c.MinHeight <= 0 || c.MaxHeight < c.MinHeight:
		return invalid("obstacle height range [%d, %d] is invalid", c.MinHeight, c.MaxHeight)
	case float64(c.MaxHeight) > c.FloorY:
		return invalid("obstacle max height %d exceeds floor %.0f", c.MaxHeight, c.FloorY)
	case c.ScoreCeiling <= 0:
		return invalid("score ceiling must be > 0")
	case c.Workers < 0:
		return invalid("workers must be >= 0")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
