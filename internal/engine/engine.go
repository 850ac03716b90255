package engine

// DefaultPainTicks is how many Update calls a pain pulse stays visible.
const DefaultPainTicks = 3

// InitialHealth is the remembered health of a fresh engine.
const InitialHealth = 100

// lookSchedule is the fixed gaze cycle: center -> left -> center -> right.
var lookSchedule = [...]Look{LookCenter, LookLeft, LookCenter, LookRight}

// FaceState is the resolved face for a single tick.
type FaceState struct {
	Look          Look   `json:"look"`
	HealthPercent int    `json:"health_percent"`
	HealthBucket  int    `json:"health_bucket"`
	FrameName     string `json:"frame"`
	IsPain        bool   `json:"is_pain"`
}

// Engine is the health-driven face state machine.
// It owns a look cursor, a pain countdown and the last observed health.
type Engine struct {
	lookCursor         int
	painTicksRemaining int
	lastHealth         int
}

// NewEngine returns an engine looking at center with full health and no pain.
func NewEngine() *Engine {
	return &Engine{lastHealth: InitialHealth}
}

// Reset puts the engine back into its freshly constructed state.
func (e *Engine) Reset() {
	e.lookCursor = 0
	e.painTicksRemaining = 0
	e.lastHealth = InitialHealth
}

// HealthToBucket maps a health percent to one of the five face tiers.
//
//	0 => 80-100
//	1 => 60-79
//	2 => 40-59
//	3 => 20-39
//	4 => 0-19
func HealthToBucket(healthPercent int) int {
	h := ClampHealth(healthPercent)
	switch {
	case h >= 80:
		return 0
	case h >= 60:
		return 1
	case h >= 40:
		return 2
	case h >= 20:
		return 3
	default:
		return 4
	}
}

// ClampHealth limits a health value to [0,100].
func ClampHealth(healthPercent int) int {
	return max(0, min(100, healthPercent))
}

// NotifyDamage arms a pain pulse lasting painTicks updates.
// A pulse extends an in-progress one but never shortens it. amount only
// gates the pulse (it must be positive).
func (e *Engine) NotifyDamage(amount, painTicks int) {
	if amount <= 0 {
		return
	}
	e.painTicksRemaining = max(e.painTicksRemaining, painTicks)
}

// Damage arms the default pulse, equivalent to NotifyDamage(1, DefaultPainTicks).
func (e *Engine) Damage() {
	e.NotifyDamage(1, DefaultPainTicks)
}

// PainTicksRemaining reports how many pain frames are still pending.
func (e *Engine) PainTicksRemaining() int {
	return e.painTicksRemaining
}

// LastHealth reports the last clamped health seen by Update.
func (e *Engine) LastHealth() int {
	return e.lastHealth
}

// Update advances the animation by one tick and returns the frame to show.
func (e *Engine) Update(healthPercent int) FaceState {
	h := ClampHealth(healthPercent)

	if h < e.lastHealth {
		e.NotifyDamage(e.lastHealth-h, DefaultPainTicks)
	}
	e.lastHealth = h

	look := lookSchedule[e.lookCursor]
	e.lookCursor = (e.lookCursor + 1) % len(lookSchedule)

	bucket := HealthToBucket(h)

	// Dead ticks leave an armed pulse untouched; it resurfaces if health
	// comes back above zero.
	if h <= 0 {
		return FaceState{
			Look:          look,
			HealthPercent: h,
			HealthBucket:  DeadBucket,
			FrameName:     DeadFrame,
			IsPain:        false,
		}
	}

	if e.painTicksRemaining > 0 {
		e.painTicksRemaining--
		return FaceState{
			Look:          look,
			HealthPercent: h,
			HealthBucket:  bucket,
			FrameName:     PainFrame(bucket),
			IsPain:        true,
		}
	}

	return FaceState{
		Look:          look,
		HealthPercent: h,
		HealthBucket:  bucket,
		FrameName:     StraightFrame(bucket, look),
		IsPain:        false,
	}
}
