// Package classify buckets recent inter-frame motion into a small set of
// regimes. The classifier watches a short rolling window of per-frame
// transforms and reduces it to summary statistics; a fixed decision tree
// over those statistics picks the regime.
package classify

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/veloframe/steady.video/internal/stab"
)

// Regime is a coarse label for the camera's recent motion behaviour.
type Regime int

const (
	// RegimeStatic: the camera is effectively still.
	RegimeStatic Regime = iota
	// RegimeSlowMotion: gentle drift or handheld sway.
	RegimeSlowMotion
	// RegimeFastMotion: large, sustained frame-to-frame motion.
	RegimeFastMotion
	// RegimeCameraShake: rapid oscillation with frequent direction reversals.
	RegimeCameraShake
	// RegimePanZoom: deliberate, highly consistent directional motion.
	RegimePanZoom
)

// String returns the regime name used in logs and persisted metrics.
func (r Regime) String() string {
	switch r {
	case RegimeStatic:
		return "static"
	case RegimeSlowMotion:
		return "slow_motion"
	case RegimeFastMotion:
		return "fast_motion"
	case RegimeCameraShake:
		return "camera_shake"
	case RegimePanZoom:
		return "pan_zoom"
	default:
		return "unknown"
	}
}

// MinHistory is the window fill below which the classifier always reports
// RegimeStatic. A cold window has no statistics worth acting on.
const MinHistory = 5

// DefaultWindow is the shipped classification window length in frames.
const DefaultWindow = 30

// Thresholds are the decision-tree cut points. Magnitude thresholds are in
// the scalar motion-magnitude units of Transform.Magnitude.
type Thresholds struct {
	StaticMagnitude    float64 `json:"static_magnitude"`
	SlowMagnitude      float64 `json:"slow_magnitude"`
	FastMagnitude      float64 `json:"fast_magnitude"`
	MagnitudeVariance  float64 `json:"magnitude_variance"`
	HighFrequencyRatio float64 `json:"high_frequency_ratio"`
	ConsistencyScore   float64 `json:"consistency_score"`
}

// DefaultThresholds returns the shipped cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StaticMagnitude:    6.0,
		SlowMagnitude:      15.0,
		FastMagnitude:      40.0,
		MagnitudeVariance:  3.0,
		HighFrequencyRatio: 0.70,
		ConsistencyScore:   0.96,
	}
}

// Scaled returns the thresholds adjusted for a motion sensitivity factor.
// Higher sensitivity lowers the magnitude cut points so smaller motion is
// escalated sooner. The ratio-valued cut points are left alone. The
// sensitivity is clamped to its documented range first.
func (t Thresholds) Scaled(sensitivity float64) Thresholds {
	if sensitivity < stab.MinMotionSensitivity {
		sensitivity = stab.MinMotionSensitivity
	}
	if sensitivity > stab.MaxMotionSensitivity {
		sensitivity = stab.MaxMotionSensitivity
	}
	out := t
	out.StaticMagnitude = t.StaticMagnitude / sensitivity
	out.SlowMagnitude = t.SlowMagnitude / sensitivity
	out.FastMagnitude = t.FastMagnitude / sensitivity
	out.MagnitudeVariance = t.MagnitudeVariance / sensitivity
	return out
}

// Metrics are the summary statistics of the current window. They are
// exported so the engine can surface them alongside the regime.
type Metrics struct {
	MeanMagnitude      float64 `json:"mean_magnitude"`
	MagnitudeVariance  float64 `json:"magnitude_variance"`
	Consistency        float64 `json:"consistency"`
	HighFrequencyRatio float64 `json:"high_frequency_ratio"`
	Samples            int     `json:"samples"`
}

// sample is one frame's contribution to the window.
type sample struct {
	mag    float64
	dx, dy float64
}

// Classifier accumulates per-frame transforms and classifies the window.
// Not safe for concurrent use.
type Classifier struct {
	thresholds  Thresholds
	sensitivity float64
	window      []sample
	head        int
	size        int
}

// New creates a classifier with the given thresholds and window length.
func New(thresholds Thresholds, window int) *Classifier {
	if window < MinHistory {
		window = MinHistory
	}
	return &Classifier{
		thresholds:  thresholds,
		sensitivity: 1.0,
		window:      make([]sample, window),
	}
}

// SetSensitivity updates the motion sensitivity scaling applied to the
// thresholds on every classification.
func (c *Classifier) SetSensitivity(s float64) { c.sensitivity = s }

// SetThresholds replaces the decision cut points.
func (c *Classifier) SetThresholds(t Thresholds) { c.thresholds = t }

// Reset empties the window.
func (c *Classifier) Reset() {
	c.head = 0
	c.size = 0
}

// Len returns the current window fill.
func (c *Classifier) Len() int { return c.size }

// Observe pushes one frame's transform into the window.
func (c *Classifier) Observe(t stab.Transform) {
	s := sample{mag: t.Magnitude(), dx: t.TX, dy: t.TY}
	if c.size < len(c.window) {
		c.window[(c.head+c.size)%len(c.window)] = s
		c.size++
		return
	}
	c.window[c.head] = s
	c.head = (c.head + 1) % len(c.window)
}

// Classify reduces the window to metrics and picks the regime. With fewer
// than MinHistory samples it reports RegimeStatic and zeroed metrics.
func (c *Classifier) Classify() (Regime, Metrics) {
	if c.size < MinHistory {
		return RegimeStatic, Metrics{Samples: c.size}
	}
	m := c.metrics()
	th := c.thresholds.Scaled(c.sensitivity)

	regime := c.decide(m, th)
	return regime, m
}

// decide is the decision tree proper. Order matters: shake and pan are
// recognised before the plain magnitude buckets because both can carry
// any mean magnitude.
func (c *Classifier) decide(m Metrics, th Thresholds) Regime {
	if m.MeanMagnitude < th.StaticMagnitude && m.MagnitudeVariance < th.MagnitudeVariance {
		return RegimeStatic
	}
	if m.HighFrequencyRatio > th.HighFrequencyRatio && m.MagnitudeVariance > th.MagnitudeVariance {
		return RegimeCameraShake
	}
	if m.Consistency > th.ConsistencyScore && m.MeanMagnitude >= th.StaticMagnitude {
		return RegimePanZoom
	}
	if m.MeanMagnitude < th.SlowMagnitude {
		return RegimeSlowMotion
	}
	return RegimeFastMotion
}

// metrics computes the window statistics.
func (c *Classifier) metrics() Metrics {
	mags := make([]float64, c.size)
	var sumDx, sumDy, sumSpeed float64
	reversals := 0
	var prevDx, prevDy float64
	for i := 0; i < c.size; i++ {
		s := c.window[(c.head+i)%len(c.window)]
		mags[i] = s.mag
		sumDx += s.dx
		sumDy += s.dy
		sumSpeed += math.Hypot(s.dx, s.dy)
		if i > 0 && prevDx*s.dx+prevDy*s.dy < 0 {
			reversals++
		}
		prevDx, prevDy = s.dx, s.dy
	}

	m := Metrics{Samples: c.size}
	m.MeanMagnitude = stat.Mean(mags, nil)
	m.MagnitudeVariance = stat.Variance(mags, nil)

	// Consistency: length of the summed translation over the summed
	// per-frame lengths. 1.0 is a perfectly straight pan, near 0 is
	// direction-free jitter.
	if sumSpeed > 0 {
		m.Consistency = math.Hypot(sumDx, sumDy) / sumSpeed
	}

	if c.size > 1 {
		m.HighFrequencyRatio = float64(reversals) / float64(c.size-1)
	}
	return m
}
