package stab

import "fmt"

// Parameter ranges. Updates from the settings layer are clamped into these
// ranges on receipt — out-of-range input is logged and clamped, never
// rejected outright (a live stream must keep running on whatever the UI
// sends).
const (
	MinSmoothingRadius = 5
	MaxSmoothingRadius = 200

	MinMaxCorrection = 1.0
	MaxMaxCorrection = 100.0

	MinFeatureCount = 50
	MaxFeatureCount = 2000

	MinQualityLevel = 0.001
	MaxQualityLevel = 0.1

	MinMinDistance = 1.0
	MaxMinDistance = 200.0

	MinBlockSize = 3
	MaxBlockSize = 31

	MinMotionSensitivity = 0.5
	MaxMotionSensitivity = 2.0

	MinTransitionRate = 0.1
	MaxTransitionRate = 1.0

	MinRefreshThreshold = 0.1
	MaxRefreshThreshold = 1.0

	MinErrorThreshold = 10.0
	MaxErrorThreshold = 100.0

	MinRefreshInterval = 5
	MaxRefreshInterval = 500
)

// Params is the active tunable configuration of one engine instance.
// One copy is the "active" set mutated by the adaptive controller through
// interpolation; a second copy is the "target" set written on regime change.
type Params struct {
	// SmoothingRadius is the number of recent per-frame transforms averaged
	// to produce the corrective transform. Range 5-200 frames.
	SmoothingRadius int `json:"smoothing_radius"`

	// MaxCorrection bounds the corrective translation as a percentage of
	// the frame diagonal. Range 1-100.
	MaxCorrection float64 `json:"max_correction"`

	// FeatureCount is the corner detection budget. Range 50-2000.
	FeatureCount int `json:"feature_count"`

	// QualityLevel is the corner response floor relative to the strongest
	// corner in the frame. Range 0.001-0.1.
	QualityLevel float64 `json:"quality_level"`

	// MinDistance is the minimum pairwise distance between detected
	// corners, in pixels. Range 1-200.
	MinDistance float64 `json:"min_distance"`

	// BlockSize is the structure-tensor window edge; odd, range 3-31.
	BlockSize int `json:"block_size"`

	// MotionSensitivity scales every classifier threshold. Range 0.5-2.0.
	MotionSensitivity float64 `json:"motion_sensitivity"`

	// TransitionRate is the per-frame fraction of the distance to the
	// target parameter set covered during an adaptive transition.
	// Range 0.1-1.0; 1.0 snaps immediately.
	TransitionRate float64 `json:"transition_rate"`

	// RefreshThreshold re-triggers detection when the valid point count
	// drops below this fraction of FeatureCount. Range 0.1-1.0.
	RefreshThreshold float64 `json:"refresh_threshold"`

	// RefreshInterval forces re-detection every N frames regardless of
	// point survival. Range 5-500.
	RefreshInterval int `json:"refresh_interval"`

	// ErrorThreshold is the per-point optical-flow residual ceiling;
	// points above it are marked invalid. Range 10-100.
	ErrorThreshold float64 `json:"error_threshold"`

	// UseHighPass enables high-pass attenuation of the corrective
	// transform; set by the adaptive controller for the CameraShake regime.
	UseHighPass bool `json:"use_high_pass"`

	// HighPassAttenuation is the fraction of the low-frequency component
	// removed from the correction when UseHighPass is on.
	HighPassAttenuation float64 `json:"high_pass_attenuation"`

	// UseDirectionalSmoothing biases smoothing along the dominant motion
	// direction; set by the adaptive controller for the PanZoom regime.
	UseDirectionalSmoothing bool `json:"use_directional_smoothing"`
}

// DefaultParams returns the shipped parameter defaults.
func DefaultParams() Params {
	return Params{
		SmoothingRadius:   30,
		MaxCorrection:     20.0,
		FeatureCount:      200,
		QualityLevel:      0.01,
		MinDistance:       10.0,
		BlockSize:         3,
		MotionSensitivity: 1.0,
		TransitionRate:    0.1,
		RefreshThreshold:  0.5,
		RefreshInterval:   25,
		ErrorThreshold:    30.0,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp returns a copy of p with every field forced into its documented
// range, plus the names of the fields that needed clamping. BlockSize is
// additionally rounded down to odd. Callers log the returned names on the
// ops stream and carry on with the clamped copy.
func (p Params) Clamp() (Params, []string) {
	var clamped []string
	note := func(name string) { clamped = append(clamped, name) }

	out := p
	if out.SmoothingRadius = clampInt(p.SmoothingRadius, MinSmoothingRadius, MaxSmoothingRadius); out.SmoothingRadius != p.SmoothingRadius {
		note("smoothing_radius")
	}
	if out.MaxCorrection = clampFloat(p.MaxCorrection, MinMaxCorrection, MaxMaxCorrection); out.MaxCorrection != p.MaxCorrection {
		note("max_correction")
	}
	if out.FeatureCount = clampInt(p.FeatureCount, MinFeatureCount, MaxFeatureCount); out.FeatureCount != p.FeatureCount {
		note("feature_count")
	}
	if out.QualityLevel = clampFloat(p.QualityLevel, MinQualityLevel, MaxQualityLevel); out.QualityLevel != p.QualityLevel {
		note("quality_level")
	}
	if out.MinDistance = clampFloat(p.MinDistance, MinMinDistance, MaxMinDistance); out.MinDistance != p.MinDistance {
		note("min_distance")
	}
	out.BlockSize = clampInt(p.BlockSize, MinBlockSize, MaxBlockSize)
	if out.BlockSize%2 == 0 {
		out.BlockSize--
	}
	if out.BlockSize != p.BlockSize {
		note("block_size")
	}
	if out.MotionSensitivity = clampFloat(p.MotionSensitivity, MinMotionSensitivity, MaxMotionSensitivity); out.MotionSensitivity != p.MotionSensitivity {
		note("motion_sensitivity")
	}
	if out.TransitionRate = clampFloat(p.TransitionRate, MinTransitionRate, MaxTransitionRate); out.TransitionRate != p.TransitionRate {
		note("transition_rate")
	}
	if out.RefreshThreshold = clampFloat(p.RefreshThreshold, MinRefreshThreshold, MaxRefreshThreshold); out.RefreshThreshold != p.RefreshThreshold {
		note("refresh_threshold")
	}
	if out.RefreshInterval = clampInt(p.RefreshInterval, MinRefreshInterval, MaxRefreshInterval); out.RefreshInterval != p.RefreshInterval {
		note("refresh_interval")
	}
	if out.ErrorThreshold = clampFloat(p.ErrorThreshold, MinErrorThreshold, MaxErrorThreshold); out.ErrorThreshold != p.ErrorThreshold {
		note("error_threshold")
	}
	if out.HighPassAttenuation = clampFloat(p.HighPassAttenuation, 0, 1); out.HighPassAttenuation != p.HighPassAttenuation {
		note("high_pass_attenuation")
	}
	return out, clamped
}

// Validate reports the first out-of-range field as a ConfigurationError.
// Unlike Clamp it does not fix anything; it exists for call sites that want
// to reject a preset file outright instead of silently repairing it.
func (p Params) Validate() error {
	c, clamped := p.Clamp()
	_ = c
	if len(clamped) > 0 {
		return fmt.Errorf("%w: out-of-range fields %v", ErrConfiguration, clamped)
	}
	return nil
}
