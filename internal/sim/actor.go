package sim

// Actor is one jumper. X never changes; only the vertical axis is simulated.
type Actor struct {
	Index int     `json:"index" msgpack:"index"`
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	VY    float64 `json:"vy" msgpack:"vy"`
	Alive bool    `json:"alive" msgpack:"alive"`
	Score int     `json:"score" msgpack:"score"`
}

func newActor(index int, cfg Config) Actor {
	return Actor{
		Index: index,
		X:     cfg.ActorX,
		Y:     cfg.Ground(),
		Alive: true,
	}
}

// OnGround reports whether the actor rests exactly on the ground.
func (a *Actor) OnGround(cfg Config) bool {
	return a.Y == cfg.Ground()
}

// Step applies gravity, integrates position and clamps to the ground.
// Reaching the ground ends the fall, so a landed actor is at rest.
func (a *Actor) Step(cfg Config) {
	if !a.Alive {
		return
	}
	a.VY += cfg.Gravity
	a.Y += a.VY
	if ground := cfg.Ground(); a.Y >= ground {
		a.Y = ground
		a.VY = 0
	}
}

// Jump fires the jump impulse when the actor rests on the ground and
// reports whether it did. Mid-air calls and repeats within a tick are no-ops.
func (a *Actor) Jump(cfg Config) bool {
	if !a.Alive || !a.OnGround(cfg) || a.VY != 0 {
		return false
	}
	a.VY = cfg.JumpImpulse
	return true
}

// Bounds returns the actor's rectangle as left, top, right, bottom.
func (a *Actor) Bounds(cfg Config) (left, top, right, bottom float64) {
	return a.X, a.Y, a.X + cfg.ActorSize, a.Y + cfg.ActorSize
}

// MaxJumpHeight is the apex height above ground reachable from a standing jump.
func MaxJumpHeight(cfg Config) float64 {
	v := cfg.JumpImpulse
	height := 0.0
	for {
		v += cfg.Gravity
		if v >= 0 {
			return height
		}
		height -= v
	}
}
