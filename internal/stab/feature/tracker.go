package feature

import (
	"fmt"

	"github.com/veloframe/steady.video/internal/stab"
)

// TrackerConfig holds the feature tracker's tunable parameters. The
// adaptive controller rewrites this at frame boundaries via SetConfig.
type TrackerConfig struct {
	Detector DetectorConfig
	Flow     FlowConfig

	// RefreshThreshold re-triggers detection when the valid point count
	// drops below this fraction of the detection budget.
	RefreshThreshold float64

	// RefreshInterval forces re-detection every N frames regardless of
	// point survival.
	RefreshInterval int
}

// TrackerConfigFromParams derives a TrackerConfig from the engine-level
// parameter set.
func TrackerConfigFromParams(p stab.Params) TrackerConfig {
	flow := DefaultFlowConfig()
	flow.ErrorCeiling = p.ErrorThreshold
	return TrackerConfig{
		Detector: DetectorConfig{
			MaxFeatures:  p.FeatureCount,
			QualityLevel: p.QualityLevel,
			MinDistance:  p.MinDistance,
			BlockSize:    p.BlockSize,
		},
		Flow:             flow,
		RefreshThreshold: p.RefreshThreshold,
		RefreshInterval:  p.RefreshInterval,
	}
}

// Tracker detects and tracks sparse point correspondences between
// consecutive intensity frames. It owns the current point set and the
// refresh bookkeeping; the caller owns the frames and their pyramids.
type Tracker struct {
	cfg                  TrackerConfig
	points               []stab.Point
	framesSinceDetection int
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{cfg: cfg}
}

// SetConfig replaces the tracker configuration. Called by the engine at
// frame boundaries only, never mid-frame.
func (t *Tracker) SetConfig(cfg TrackerConfig) {
	t.cfg = cfg
}

// Config returns the current configuration.
func (t *Tracker) Config() TrackerConfig { return t.cfg }

// Points returns the current point set (not a copy).
func (t *Tracker) Points() []stab.Point { return t.points }

// PointCount returns the number of currently held points.
func (t *Tracker) PointCount() int { return len(t.points) }

// Reset clears the point set and refresh bookkeeping.
func (t *Tracker) Reset() {
	t.points = nil
	t.framesSinceDetection = 0
}

// Initialize detects an initial point set on the given frame. An empty
// result is non-fatal: it signals an unusable frame (too small, flat
// texture) and the caller stays in its warm-up state.
func (t *Tracker) Initialize(frame *stab.GrayFrame) []stab.Point {
	t.points = DetectCorners(frame, t.cfg.Detector)
	t.framesSinceDetection = 0
	if len(t.points) > 0 {
		stab.Diagf("feature: detected %d corners (budget %d, quality %.4f)",
			len(t.points), t.cfg.Detector.MaxFeatures, t.cfg.Detector.QualityLevel)
	}
	return t.points
}

// Track runs pyramidal optical flow from prev to curr for the currently
// held point set and returns the correspondence set. Numeric failures
// inside the solver are caught and reported as a TrackingFailure; they
// never propagate as panics.
func (t *Tracker) Track(prev, curr *Pyramid) (corr *stab.Correspondences, err error) {
	defer func() {
		if r := recover(); r != nil {
			corr = nil
			err = fmt.Errorf("%w: optical flow fault: %v", stab.ErrTrackingFailure, r)
		}
	}()

	if len(t.points) == 0 {
		return nil, fmt.Errorf("%w: no points to track", stab.ErrTrackingFailure)
	}
	corr = Track(prev, curr, t.points, t.cfg.Flow)
	t.framesSinceDetection++
	return corr, nil
}

// Advance commits the tracked positions as the point set for the next
// frame, dropping invalid points.
func (t *Tracker) Advance(corr *stab.Correspondences) {
	kept := t.points[:0]
	for i, v := range corr.Valid {
		if v {
			kept = append(kept, corr.Curr[i])
		}
	}
	t.points = kept
}

// NeedsRefresh reports whether detection should be re-run before the next
// frame: either the surviving point count dropped below the refresh
// fraction of the budget, or the fixed frame interval elapsed.
func (t *Tracker) NeedsRefresh() bool {
	if t.cfg.RefreshInterval > 0 && t.framesSinceDetection >= t.cfg.RefreshInterval {
		return true
	}
	floor := int(t.cfg.RefreshThreshold * float64(t.cfg.Detector.MaxFeatures))
	return len(t.points) < floor
}

// Refresh re-runs detection on the given frame, replacing the point set.
// On detection failure the existing points are kept so tracking can limp
// along until the next attempt.
func (t *Tracker) Refresh(frame *stab.GrayFrame) {
	fresh := DetectCorners(frame, t.cfg.Detector)
	if len(fresh) == 0 {
		stab.Opsf("feature: refresh found no corners, keeping %d existing points", len(t.points))
		return
	}
	t.points = fresh
	t.framesSinceDetection = 0
	stab.Tracef("feature: refreshed point set, %d corners", len(fresh))
}
