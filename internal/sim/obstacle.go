package sim

import (
	"math/rand"
)

// Obstacle stands on the floor; Height extends upwards from FloorY.
type Obstacle struct {
	X      float64 `json:"x" msgpack:"x"`
	Width  float64 `json:"width" msgpack:"width"`
	Height float64 `json:"height" msgpack:"height"`
}

func (o Obstacle) Top(cfg Config) float64 {
	return cfg.FloorY - o.Height
}

func (o Obstacle) Bounds(cfg Config) (left, top, right, bottom float64) {
	return o.X, o.Top(cfg), o.X + o.Width, cfg.FloorY
}

// OffScreen reports whether the obstacle's right edge has scrolled fully past x=0.
func (o Obstacle) OffScreen() bool {
	return o.X <= -o.Width
}

// Stream generates obstacles from a seeded source.
type Stream struct {
	cfg Config
	rng *rand.Rand
}

func NewStream(cfg Config, rng *rand.Rand) *Stream {
	return &Stream{cfg: cfg, rng: rng}
}

// Generate returns an obstacle placed MinSeparation plus jitter after afterX.
func (s *Stream) Generate(afterX float64) Obstacle {
	return Obstacle{
		X:      afterX + s.cfg.MinSeparation + float64(s.uniform(0, s.cfg.Jitter)),
		Width:  float64(s.uniform(s.cfg.MinWidth, s.cfg.MaxWidth)),
		Height: float64(s.uniform(s.cfg.MinHeight, s.cfg.MaxHeight)),
	}
}

// Fill populates pool in place with a chain starting after FirstObstacleAfter.
func (s *Stream) Fill(pool []Obstacle) {
	after := s.cfg.FirstObstacleAfter
	for i := range pool {
		pool[i] = s.Generate(after)
		after = pool[i].X
	}
}

// Recycle drops pool[index] and appends a fresh obstacle chained off the
// rightmost member. Order and length are preserved and nothing is allocated.
func (s *Stream) Recycle(pool []Obstacle, index int) {
	if index < 0 || index >= len(pool) {
		return
	}
	rightmost := pool[len(pool)-1].X
	copy(pool[index:], pool[index+1:])
	pool[len(pool)-1] = s.Generate(rightmost)
}

// RecycleOffScreen recycles every obstacle that has left the screen and
// returns how many were replaced.
func (s *Stream) RecycleOffScreen(pool []Obstacle) int {
	replaced := 0
	// Bounded by the pool length: a fresh obstacle is never off screen.
	for i := 0; i < len(pool); {
		if !pool[i].OffScreen() || replaced >= len(pool) {
			i++
			continue
		}
		s.Recycle(pool, i)
		replaced++
	}
	return replaced
}

// Scroll moves every obstacle left by speed.
func Scroll(pool []Obstacle, speed float64) {
	for i := range pool {
		pool[i].X -= speed
	}
}

func (s *Stream) uniform(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.rng.Intn(hi-lo+1)
}
