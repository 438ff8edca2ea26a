// Package adaptive maps motion regimes to stabilization parameter presets
// and walks the live parameter set toward the active preset a little each
// frame, so regime changes never cause a visible jump in behaviour.
package adaptive

import (
	"math"

	"github.com/veloframe/steady.video/internal/stab"
	"github.com/veloframe/steady.video/internal/stab/classify"
)

// DefaultDebounceFrames is how many consecutive frames a new regime must
// be observed before the controller retargets. Classification flicker at
// a threshold boundary must not thrash the presets.
const DefaultDebounceFrames = 10

// snapEpsilon ends a transition when every interpolated field is within
// this relative distance of its target.
const snapEpsilon = 1e-3

// Preset is the regime-specific subset of the parameter space. Fields not
// listed here always come from the user's base parameters.
type Preset struct {
	SmoothingRadius         int     `json:"smoothing_radius"`
	MaxCorrection           float64 `json:"max_correction"`
	FeatureCount            int     `json:"feature_count"`
	QualityLevel            float64 `json:"quality_level"`
	RefreshThreshold        float64 `json:"refresh_threshold"`
	UseHighPass             bool    `json:"use_high_pass"`
	HighPassAttenuation     float64 `json:"high_pass_attenuation"`
	UseDirectionalSmoothing bool    `json:"use_directional_smoothing"`
}

// PresetTable maps every regime to its preset.
type PresetTable map[classify.Regime]Preset

// DefaultPresets returns the shipped per-regime table. The static preset
// barely smooths (nothing to correct, lowest latency); shake smooths hard
// with high-pass attenuation; pan keeps the radius short and releases the
// dominant direction so the pan itself is preserved.
func DefaultPresets() PresetTable {
	return PresetTable{
		classify.RegimeStatic: {
			SmoothingRadius:  8,
			MaxCorrection:    15,
			FeatureCount:     120,
			QualityLevel:     0.015,
			RefreshThreshold: 0.9,
		},
		classify.RegimeSlowMotion: {
			SmoothingRadius:  25,
			MaxCorrection:    25,
			FeatureCount:     175,
			QualityLevel:     0.010,
			RefreshThreshold: 0.7,
		},
		classify.RegimeFastMotion: {
			SmoothingRadius:  50,
			MaxCorrection:    35,
			FeatureCount:     250,
			QualityLevel:     0.010,
			RefreshThreshold: 0.5,
		},
		classify.RegimeCameraShake: {
			SmoothingRadius:     65,
			MaxCorrection:       45,
			FeatureCount:        350,
			QualityLevel:        0.005,
			RefreshThreshold:    0.4,
			UseHighPass:         true,
			HighPassAttenuation: 0.3,
		},
		classify.RegimePanZoom: {
			SmoothingRadius:         15,
			MaxCorrection:           20,
			FeatureCount:            225,
			QualityLevel:            0.010,
			RefreshThreshold:        0.6,
			UseDirectionalSmoothing: true,
		},
	}
}

// Controller owns the live parameter set. Each frame the engine feeds it
// the classified regime; the controller debounces regime changes, picks
// the target preset and advances the live set toward it by TransitionRate.
// Not safe for concurrent use.
type Controller struct {
	presets        PresetTable
	base           stab.Params
	active         stab.Params
	target         stab.Params
	regime         classify.Regime
	candidate      classify.Regime
	candidateCount int
	debounce       int
	transitioning  bool
}

// New creates a controller seeded with the user's base parameters. The
// initial regime is static.
func New(base stab.Params, presets PresetTable, debounceFrames int) *Controller {
	if presets == nil {
		presets = DefaultPresets()
	}
	if debounceFrames < 1 {
		debounceFrames = DefaultDebounceFrames
	}
	c := &Controller{
		presets:  presets,
		base:     base,
		regime:   classify.RegimeStatic,
		debounce: debounceFrames,
	}
	c.active = c.merge(classify.RegimeStatic)
	c.target = c.active
	return c
}

// Params returns the live parameter set for this frame.
func (c *Controller) Params() stab.Params { return c.active }

// Regime returns the currently committed regime.
func (c *Controller) Regime() classify.Regime { return c.regime }

// Transitioning reports whether a preset transition is in flight.
func (c *Controller) Transitioning() bool { return c.transitioning }

// SetBase replaces the user's base parameters. The change is folded into
// the current target so it phases in through the normal transition path.
func (c *Controller) SetBase(base stab.Params) {
	c.base = base
	c.target = c.merge(c.regime)
	c.transitioning = true
}

// Reset returns the controller to the static regime with no transition in
// flight.
func (c *Controller) Reset() {
	c.regime = classify.RegimeStatic
	c.candidate = classify.RegimeStatic
	c.candidateCount = 0
	c.active = c.merge(classify.RegimeStatic)
	c.target = c.active
	c.transitioning = false
}

// Observe feeds this frame's classified regime and advances any running
// transition by one step. It returns the parameter set to use for the next
// frame.
func (c *Controller) Observe(regime classify.Regime) stab.Params {
	if regime != c.regime {
		if regime == c.candidate {
			c.candidateCount++
		} else {
			c.candidate = regime
			c.candidateCount = 1
		}
		if c.candidateCount >= c.debounce {
			stab.Opsf("adaptive: regime %s -> %s after %d frames",
				c.regime, regime, c.candidateCount)
			c.regime = regime
			c.candidateCount = 0
			c.target = c.merge(regime)
			c.transitioning = true
		}
	} else {
		c.candidateCount = 0
	}

	if c.transitioning {
		c.step()
	}
	return c.active
}

// merge builds the full parameter set for a regime: the user's base with
// the preset fields overlaid, clamped into range.
func (c *Controller) merge(regime classify.Regime) stab.Params {
	p := c.base
	preset, ok := c.presets[regime]
	if !ok {
		preset = DefaultPresets()[classify.RegimeSlowMotion]
	}
	p.SmoothingRadius = preset.SmoothingRadius
	p.MaxCorrection = preset.MaxCorrection
	p.FeatureCount = preset.FeatureCount
	p.QualityLevel = preset.QualityLevel
	p.RefreshThreshold = preset.RefreshThreshold
	p.UseHighPass = preset.UseHighPass
	p.HighPassAttenuation = preset.HighPassAttenuation
	p.UseDirectionalSmoothing = preset.UseDirectionalSmoothing
	out, clamped := p.Clamp()
	if len(clamped) > 0 {
		stab.Diagf("adaptive: preset for %s clamped fields %v", regime, clamped)
	}
	return out
}

// step advances the live set one TransitionRate fraction toward the
// target, snapping when close. Boolean fields flip at the midpoint of the
// transition they belong to: high-pass and directional smoothing take the
// target's value as soon as the transition starts winding down.
func (c *Controller) step() {
	rate := c.base.TransitionRate
	if rate <= 0 {
		rate = stab.MinTransitionRate
	}
	if rate >= 1 {
		c.active = c.target
		c.transitioning = false
		return
	}

	c.active.SmoothingRadius = lerpInt(c.active.SmoothingRadius, c.target.SmoothingRadius, rate)
	c.active.MaxCorrection = lerp(c.active.MaxCorrection, c.target.MaxCorrection, rate)
	c.active.FeatureCount = lerpInt(c.active.FeatureCount, c.target.FeatureCount, rate)
	c.active.QualityLevel = lerp(c.active.QualityLevel, c.target.QualityLevel, rate)
	c.active.RefreshThreshold = lerp(c.active.RefreshThreshold, c.target.RefreshThreshold, rate)
	c.active.HighPassAttenuation = lerp(c.active.HighPassAttenuation, c.target.HighPassAttenuation, rate)
	c.active.UseHighPass = c.target.UseHighPass
	c.active.UseDirectionalSmoothing = c.target.UseDirectionalSmoothing

	// Non-preset fields track the base directly.
	c.active.MinDistance = c.base.MinDistance
	c.active.BlockSize = c.base.BlockSize
	c.active.MotionSensitivity = c.base.MotionSensitivity
	c.active.TransitionRate = c.base.TransitionRate
	c.active.RefreshInterval = c.base.RefreshInterval
	c.active.ErrorThreshold = c.base.ErrorThreshold

	if c.converged() {
		c.active = c.target
		c.transitioning = false
		stab.Tracef("adaptive: transition to %s complete", c.regime)
	}
}

// converged reports whether every interpolated field is close enough to
// its target to snap.
func (c *Controller) converged() bool {
	return nearInt(c.active.SmoothingRadius, c.target.SmoothingRadius) &&
		near(c.active.MaxCorrection, c.target.MaxCorrection) &&
		nearInt(c.active.FeatureCount, c.target.FeatureCount) &&
		near(c.active.QualityLevel, c.target.QualityLevel) &&
		near(c.active.RefreshThreshold, c.target.RefreshThreshold) &&
		near(c.active.HighPassAttenuation, c.target.HighPassAttenuation)
}

func lerp(a, b, rate float64) float64 {
	return a + (b-a)*rate
}

// lerpInt interpolates integers, always moving at least one unit toward
// the target so small gaps cannot stall below the rounding threshold.
func lerpInt(a, b int, rate float64) int {
	if a == b {
		return a
	}
	step := float64(b-a) * rate
	if step > 0 && step < 1 {
		step = 1
	}
	if step < 0 && step > -1 {
		step = -1
	}
	return a + int(step)
}

func near(a, b float64) bool {
	d := math.Abs(a - b)
	if d < 1e-9 {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return d <= snapEpsilon*scale
}

func nearInt(a, b int) bool { return a == b }
