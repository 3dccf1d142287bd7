package sim

// Outcome explains why an episode left the Running state.
type Outcome string

const (
	OutcomeNone Outcome = ""
	// OutcomeCollision: the human-driven actor hit an obstacle.
	OutcomeCollision Outcome = "collision"
	// OutcomeExtinct: every automated actor is dead.
	OutcomeExtinct Outcome = "extinct"
	// OutcomeCeiling: every survivor reached the score ceiling. A success.
	OutcomeCeiling Outcome = "ceiling"
	// OutcomeQuit: quit signal or cancelled context.
	OutcomeQuit Outcome = "quit"
)

// Overlaps reports strict AABB intersection; touching edges do not count.
func Overlaps(a *Actor, o Obstacle, cfg Config) bool {
	al, at, ar, ab := a.Bounds(cfg)
	ol, ot, or, ob := o.Bounds(cfg)
	return al < or && ol < ar && at < ob && ot < ab
}

// CheckCollisions kills every living actor that overlaps an obstacle and
// returns the indices that died during this call.
func CheckCollisions(actors []Actor, obstacles []Obstacle, cfg Config) []int {
	var died []int
	for i := range actors {
		actor := &actors[i]
		if !actor.Alive {
			continue
		}
		for _, obstacle := range obstacles {
			if Overlaps(actor, obstacle, cfg) {
				actor.Alive = false
				died = append(died, actor.Index)
				break
			}
		}
	}
	return died
}

// Judge evaluates the termination predicate after collisions were applied.
func Judge(mode Mode, actors []Actor, ceiling int) Outcome {
	if mode == ModeHuman {
		if len(actors) == 0 || !actors[0].Alive {
			return OutcomeCollision
		}
		return OutcomeNone
	}

	survivors := 0
	reached := 0
	for i := range actors {
		if !actors[i].Alive {
			continue
		}
		survivors++
		if actors[i].Score >= ceiling {
			reached++
		}
	}
	switch {
	case survivors == 0:
		return OutcomeExtinct
	case reached == survivors:
		return OutcomeCeiling
	default:
		return OutcomeNone
	}
}
