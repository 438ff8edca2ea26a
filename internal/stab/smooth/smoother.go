// Package smooth maintains the rolling history of per-frame motion
// estimates and derives the corrective transform that cancels recent
// average motion.
package smooth

import (
	"math"

	"github.com/veloframe/steady.video/internal/stab"
)

// Config controls the smoothing behaviour. The adaptive controller
// rewrites it at frame boundaries.
type Config struct {
	// Radius is the history capacity in frames.
	Radius int

	// UseHighPass attenuates the slow component of the correction so only
	// frame-to-frame jitter is cancelled.
	UseHighPass bool

	// HighPassAttenuation is the fraction of the slow component removed
	// when UseHighPass is on. Range [0, 1].
	HighPassAttenuation float64

	// UseDirectionalSmoothing reduces correction along the dominant motion
	// direction so deliberate pans are followed rather than fought.
	UseDirectionalSmoothing bool
}

// directionalRelief is how much of the correction parallel to a dominant
// pan direction is released. Perpendicular jitter is still fully corrected.
const directionalRelief = 0.6

// dominantDirectionMin is the mean translation magnitude (px/frame) below
// which no dominant direction is declared.
const dominantDirectionMin = 0.5

// Smoother is a fixed-capacity FIFO of per-frame transforms. Pushing onto
// a full history evicts the oldest entry. It is not safe for concurrent
// use; the engine serialises access.
type Smoother struct {
	cfg  Config
	ring []stab.Transform
	head int // index of the oldest entry
	size int
}

// New creates a smoother with the given configuration. Radius is clamped
// to at least 1.
func New(cfg Config) *Smoother {
	if cfg.Radius < 1 {
		cfg.Radius = 1
	}
	return &Smoother{
		cfg:  cfg,
		ring: make([]stab.Transform, cfg.Radius),
	}
}

// Push appends a per-frame transform, evicting the oldest when full.
func (s *Smoother) Push(t stab.Transform) {
	if s.size < len(s.ring) {
		s.ring[(s.head+s.size)%len(s.ring)] = t
		s.size++
		return
	}
	s.ring[s.head] = t
	s.head = (s.head + 1) % len(s.ring)
}

// Len returns the number of stored transforms.
func (s *Smoother) Len() int { return s.size }

// Capacity returns the history capacity in frames.
func (s *Smoother) Capacity() int { return len(s.ring) }

// Reset discards the history but keeps the configuration.
func (s *Smoother) Reset() {
	s.head = 0
	s.size = 0
}

// Snapshot returns the stored transforms oldest-first as a fresh slice.
func (s *Smoother) Snapshot() []stab.Transform {
	out := make([]stab.Transform, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.ring[(s.head+i)%len(s.ring)]
	}
	return out
}

// SetConfig applies a new configuration. A changed radius resizes the
// history, keeping the newest entries.
func (s *Smoother) SetConfig(cfg Config) {
	if cfg.Radius < 1 {
		cfg.Radius = 1
	}
	if cfg.Radius != len(s.ring) {
		old := s.Snapshot()
		s.ring = make([]stab.Transform, cfg.Radius)
		s.head = 0
		s.size = 0
		start := 0
		if len(old) > cfg.Radius {
			start = len(old) - cfg.Radius
		}
		for _, t := range old[start:] {
			s.Push(t)
		}
	}
	s.cfg = cfg
}

// Config returns the current configuration.
func (s *Smoother) Config() Config { return s.cfg }

// Mean returns the component-wise mean of the history, or the identity
// when empty.
func (s *Smoother) Mean() stab.Transform {
	if s.size == 0 {
		return stab.Identity()
	}
	var sum stab.Transform
	for i := 0; i < s.size; i++ {
		t := s.ring[(s.head+i)%len(s.ring)]
		sum.A += t.A
		sum.B += t.B
		sum.TX += t.TX
		sum.C += t.C
		sum.D += t.D
		sum.TY += t.TY
	}
	n := float64(s.size)
	return stab.Transform{
		A: sum.A / n, B: sum.B / n, TX: sum.TX / n,
		C: sum.C / n, D: sum.D / n, TY: sum.TY / n,
	}
}

// Corrective returns the transform that cancels the smoothed recent
// motion: the inverse of the history mean, post-processed by the optional
// high-pass and directional stages. Returns the identity while the
// history is empty or the mean is singular.
func (s *Smoother) Corrective() stab.Transform {
	if s.size == 0 {
		return stab.Identity()
	}
	inv, ok := s.Mean().Invert()
	if !ok {
		stab.Diagf("smooth: history mean singular, correction suppressed")
		return stab.Identity()
	}
	if s.cfg.UseHighPass {
		inv = stab.Interpolate(inv, stab.Identity(), s.cfg.HighPassAttenuation)
	}
	if s.cfg.UseDirectionalSmoothing {
		inv = s.releaseDominantDirection(inv)
	}
	return inv
}

// releaseDominantDirection projects the corrective translation onto the
// history's dominant motion direction and releases part of the parallel
// component. With no clear dominant direction the correction is returned
// unchanged.
func (s *Smoother) releaseDominantDirection(corr stab.Transform) stab.Transform {
	dx, dy, ok := s.dominantDirection()
	if !ok {
		return corr
	}
	par := corr.TX*dx + corr.TY*dy
	corr.TX -= directionalRelief * par * dx
	corr.TY -= directionalRelief * par * dy
	return corr
}

// dominantDirection returns the unit mean translation direction of the
// history, or ok=false when the mean translation is too small to trust.
func (s *Smoother) dominantDirection() (dx, dy float64, ok bool) {
	if s.size == 0 {
		return 0, 0, false
	}
	var sx, sy float64
	for i := 0; i < s.size; i++ {
		t := s.ring[(s.head+i)%len(s.ring)]
		sx += t.TX
		sy += t.TY
	}
	sx /= float64(s.size)
	sy /= float64(s.size)
	mag := math.Hypot(sx, sy)
	if mag < dominantDirectionMin {
		return 0, 0, false
	}
	return sx / mag, sy / mag, true
}

// LimitTranslation clamps the corrective translation to maxPx, preserving
// its direction. The linear part is untouched.
func LimitTranslation(t stab.Transform, maxPx float64) stab.Transform {
	mag := t.TranslationMagnitude()
	if mag <= maxPx || mag == 0 {
		return t
	}
	scale := maxPx / mag
	t.TX *= scale
	t.TY *= scale
	return t
}
