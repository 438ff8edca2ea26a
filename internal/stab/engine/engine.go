// Package engine runs the full per-frame stabilization pipeline and owns
// its lifecycle state machine. One Engine instance serves one video
// stream; frames enter through Process and a corrective transform comes
// back out.
package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veloframe/steady.video/internal/config"
	"github.com/veloframe/steady.video/internal/stab"
	"github.com/veloframe/steady.video/internal/stab/adaptive"
	"github.com/veloframe/steady.video/internal/stab/classify"
	"github.com/veloframe/steady.video/internal/stab/estimate"
	"github.com/veloframe/steady.video/internal/stab/feature"
	"github.com/veloframe/steady.video/internal/stab/smooth"
)

// State is the engine lifecycle state.
type State int

const (
	// StateInactive: created but not started.
	StateInactive State = iota
	// StateInitializing: started, waiting for a first usable frame.
	StateInitializing
	// StateActive: stabilizing normally.
	StateActive
	// StateDegraded: producing output on thin evidence (few points, or
	// recent declined estimates). Recovers to Active on a clean frame.
	StateDegraded
	// StateErrorRecovery: a frame failed outright; tracking state has been
	// discarded and the engine is re-initializing in place.
	StateErrorRecovery
	// StateFailed: the consecutive-failure ceiling was hit. Terminal until
	// Reset.
	StateFailed
)

// String returns the state name used in logs and persisted metrics.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateErrorRecovery:
		return "error_recovery"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// degradedInlierFloor marks a frame as degraded when the estimator's
// inlier count lands below it despite the fit succeeding.
const degradedInlierFloor = 12

// StageTimings are per-frame pipeline stage durations in nanoseconds.
type StageTimings struct {
	ConvertNanos  int64 `json:"convert_nanos"`
	DetectNanos   int64 `json:"detect_nanos"`
	TrackNanos    int64 `json:"track_nanos"`
	EstimateNanos int64 `json:"estimate_nanos"`
	TotalNanos    int64 `json:"total_nanos"`
}

// FrameMetrics is the per-frame record surfaced to the Recorder and to
// callers polling Metrics.
type FrameMetrics struct {
	FrameIndex     int64            `json:"frame_index"`
	State          string           `json:"state"`
	Regime         string           `json:"regime"`
	TrackedPoints  int              `json:"tracked_points"`
	ValidPoints    int              `json:"valid_points"`
	Inliers        int              `json:"inliers"`
	Motion         stab.Transform   `json:"motion"`
	Corrective     stab.Transform   `json:"corrective"`
	StabilityScore float64          `json:"stability_score"`
	Classifier     classify.Metrics `json:"classifier"`
	Timings        StageTimings     `json:"timings"`
	Failures       int              `json:"failures"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Metrics is the engine-level aggregate exposed to monitoring.
type Metrics struct {
	InstanceID      string  `json:"instance_id"`
	State           string  `json:"state"`
	Regime          string  `json:"regime"`
	FramesProcessed int64   `json:"frames_processed"`
	FramesFailed    int64   `json:"frames_failed"`
	FramesDegraded  int64   `json:"frames_degraded"`
	StateChanges    int64   `json:"state_changes"`
	StabilityScore  float64 `json:"stability_score"`
	LastFrameNanos  int64   `json:"last_frame_nanos"`
}

// Recorder receives per-frame metrics and state changes. Implementations
// must be fast or buffer internally; the engine calls them on the frame
// path.
type Recorder interface {
	RecordFrame(m FrameMetrics)
	RecordStateChange(frameIndex int64, from, to State, reason string)
}

// Config assembles an Engine.
type Config struct {
	// Params is the user's base parameter set. Zero value means defaults.
	Params stab.Params
	// Tuning supplies the non-user-facing cut points. Nil means shipped
	// defaults.
	Tuning *config.TuningConfig
	// Recorder is optional.
	Recorder Recorder
	// Now is the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// Engine is the per-stream stabilization pipeline. Process must be called
// from one goroutine at a time; UpdateParams and Metrics are safe to call
// concurrently with Process.
type Engine struct {
	id     uuid.UUID
	tuning *config.TuningConfig
	now    func() time.Time

	mu            sync.Mutex
	state         State
	pendingParams *stab.Params
	recorder      Recorder

	tracker    *feature.Tracker
	estimator  *estimate.Estimator
	smoother   *smooth.Smoother
	classifier *classify.Classifier
	controller *adaptive.Controller

	converter   stab.FrameConverter
	prevPyramid *feature.Pyramid

	frameIndex          int64
	consecutiveFailures int
	maxFailures         int

	agg Metrics
	// latest corrective, held for PendingCorrection between frames.
	lastCorrective stab.Transform
}

// New creates an engine in StateInactive.
func New(cfg Config) (*Engine, error) {
	if cfg.Tuning == nil {
		cfg.Tuning = config.EmptyTuningConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	params := cfg.Params
	if params == (stab.Params{}) {
		params = stab.DefaultParams()
	}
	clamped, fields := params.Clamp()
	if len(fields) > 0 {
		stab.Opsf("engine: initial params clamped: %v", fields)
	}

	e := &Engine{
		id:          uuid.New(),
		tuning:      cfg.Tuning,
		now:         cfg.Now,
		state:       StateInactive,
		recorder:    cfg.Recorder,
		maxFailures: cfg.Tuning.GetMaxConsecutiveFailures(),
	}
	e.buildPipeline(clamped)
	e.agg.InstanceID = e.id.String()
	e.agg.State = e.state.String()
	e.lastCorrective = stab.Identity()
	return e, nil
}

// buildPipeline constructs the stage components from a parameter set and
// the tuning config.
func (e *Engine) buildPipeline(params stab.Params) {
	th := classify.Thresholds{
		StaticMagnitude:    e.tuning.GetStaticMagnitude(),
		SlowMagnitude:      e.tuning.GetSlowMagnitude(),
		FastMagnitude:      e.tuning.GetFastMagnitude(),
		MagnitudeVariance:  e.tuning.GetMagnitudeVariance(),
		HighFrequencyRatio: e.tuning.GetHighFrequencyRatio(),
		ConsistencyScore:   e.tuning.GetConsistencyScore(),
	}
	e.classifier = classify.New(th, e.tuning.GetClassifierWindow())
	e.classifier.SetSensitivity(params.MotionSensitivity)

	e.controller = adaptive.New(params, adaptive.DefaultPresets(), e.tuning.GetDebounceFrames())
	active := e.controller.Params()

	tcfg := feature.TrackerConfigFromParams(active)
	tcfg.Flow.WindowRadius = e.tuning.GetFlowWindowRadius()
	tcfg.Flow.PyramidLevels = e.tuning.GetFlowPyramidLevels()
	tcfg.Flow.MaxIterations = e.tuning.GetFlowMaxIterations()
	tcfg.Flow.Epsilon = e.tuning.GetFlowEpsilon()
	e.tracker = feature.NewTracker(tcfg)

	e.estimator = estimate.New(estimate.Config{
		Iterations:        e.tuning.GetRansacIterations(),
		InlierThreshold:   e.tuning.GetInlierThreshold(),
		MinInlierFraction: e.tuning.GetMinInlierFraction(),
		MaxTranslation:    e.tuning.GetMaxTranslation(),
	})

	e.smoother = smooth.New(smooth.Config{
		Radius:                  active.SmoothingRadius,
		UseHighPass:             active.UseHighPass,
		HighPassAttenuation:     active.HighPassAttenuation,
		UseDirectionalSmoothing: active.UseDirectionalSmoothing,
	})
}

// ID returns the engine instance identifier.
func (e *Engine) ID() string { return e.id.String() }

// SetRecorder attaches (or replaces) the metrics recorder. Takes effect
// from the next frame.
func (e *Engine) SetRecorder(r Recorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = r
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Metrics returns a snapshot of the engine-level aggregate.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.agg
	m.State = e.state.String()
	m.Regime = e.controller.Regime().String()
	return m
}

// Start moves the engine from Inactive to Initializing. Starting a
// non-inactive engine is a configuration error.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateInactive {
		return fmt.Errorf("%w: start from state %s", stab.ErrConfiguration, e.state)
	}
	e.setStateLocked(StateInitializing, "start")
	stab.Opsf("engine %s: started", e.id)
	return nil
}

// Reset returns the engine to Initializing from any state, discarding all
// tracking history. The converter is kept: the stream format does not
// change across a reset.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetPipelineLocked()
	e.consecutiveFailures = 0
	e.setStateLocked(StateInitializing, "reset")
	stab.Opsf("engine %s: reset", e.id)
}

// resetPipelineLocked clears per-stream tracking state.
func (e *Engine) resetPipelineLocked() {
	e.tracker.Reset()
	e.smoother.Reset()
	e.classifier.Reset()
	e.controller.Reset()
	e.prevPyramid = nil
	e.lastCorrective = stab.Identity()
}

// UpdateParams stages a new base parameter set. The update is applied at
// the next frame boundary, never mid-frame: Process picks it up under the
// same mutex before touching any stage.
func (e *Engine) UpdateParams(p stab.Params) {
	clamped, fields := p.Clamp()
	if len(fields) > 0 {
		stab.Opsf("engine %s: params clamped on update: %v", e.id, fields)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingParams = &clamped
}

// Params returns the live (adaptive) parameter set.
func (e *Engine) Params() stab.Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controller.Params()
}

// PendingCorrection returns the corrective transform computed for the most
// recent frame. Render threads read this between frames.
func (e *Engine) PendingCorrection() stab.Transform {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCorrective
}

// Process runs one frame through the pipeline and returns the corrective
// transform for the renderer. The identity is returned whenever the
// engine has nothing trustworthy to say (warm-up, failure, terminal
// state); callers can always apply the result.
//
// Any panic inside the pipeline is converted to an UnknownFault error and
// the engine enters ErrorRecovery rather than taking the process down.
func (e *Engine) Process(frame *stab.HostFrame) (out stab.Transform, err error) {
	start := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", stab.ErrUnknownFault, r)
			out = stab.Identity()
			e.lastCorrective = out
			e.noteFailureLocked(err)
		}
	}()

	switch e.state {
	case StateInactive:
		return stab.Identity(), fmt.Errorf("%w: process before start", stab.ErrConfiguration)
	case StateFailed:
		return stab.Identity(), fmt.Errorf("%w: engine is failed, reset required", stab.ErrRepeatedFailure)
	}

	// Frame-boundary config application.
	if e.pendingParams != nil {
		e.applyParamsLocked(*e.pendingParams)
		e.pendingParams = nil
	}

	e.frameIndex++
	m := FrameMetrics{
		FrameIndex: e.frameIndex,
		Timestamp:  start,
		Failures:   e.consecutiveFailures,
	}

	gray, convNanos, convErr := e.convert(frame)
	m.Timings.ConvertNanos = convNanos
	if convErr != nil {
		out = stab.Identity()
		e.lastCorrective = out
		e.noteFailureLocked(convErr)
		e.finishFrameLocked(&m, start, out)
		return out, convErr
	}
	if !gray.Usable() {
		// Tiny frames are a pass-through, not a failure.
		stab.Diagf("engine %s: frame %dx%d below minimum, passing through",
			e.id, gray.Width, gray.Height)
		out = stab.Identity()
		e.lastCorrective = out
		e.enterDegradedLocked("undersized frame")
		e.finishFrameLocked(&m, start, out)
		return out, nil
	}

	active := e.controller.Params()
	e.pushParamsLocked(active)

	pyr := feature.BuildPyramid(gray, e.tracker.Config().Flow.PyramidLevels,
		2*e.tracker.Config().Flow.WindowRadius+1)

	if e.state == StateInitializing || e.state == StateErrorRecovery || e.prevPyramid == nil {
		out, err = e.initializeLocked(gray, pyr, &m)
		e.lastCorrective = out
		e.finishFrameLocked(&m, start, out)
		return out, err
	}

	out, err = e.trackFrameLocked(gray, pyr, &m, active)
	e.lastCorrective = out
	e.finishFrameLocked(&m, start, out)
	return out, err
}

// convert selects the frame converter on first use and converts the host
// frame to grayscale.
func (e *Engine) convert(frame *stab.HostFrame) (*stab.GrayFrame, int64, error) {
	t0 := e.now()
	if e.converter == nil || e.converter.Format() != frame.Format {
		conv, err := stab.ConverterFor(frame.Format)
		if err != nil {
			return nil, e.now().Sub(t0).Nanoseconds(), err
		}
		e.converter = conv
		stab.Opsf("engine %s: input format %s", e.id, frame.Format)
	}
	gray, err := e.converter.Convert(frame)
	return gray, e.now().Sub(t0).Nanoseconds(), err
}

// initializeLocked runs first-frame (or post-recovery) detection.
func (e *Engine) initializeLocked(gray *stab.GrayFrame, pyr *feature.Pyramid, m *FrameMetrics) (stab.Transform, error) {
	t0 := e.now()
	points := e.tracker.Initialize(gray)
	m.Timings.DetectNanos = e.now().Sub(t0).Nanoseconds()
	m.TrackedPoints = len(points)

	if len(points) == 0 {
		err := fmt.Errorf("%w: no detectable features", stab.ErrTrackingFailure)
		e.noteFailureLocked(err)
		return stab.Identity(), err
	}
	e.prevPyramid = pyr
	e.consecutiveFailures = 0
	e.setStateLocked(StateActive, "initialized")
	return stab.Identity(), nil
}

// trackFrameLocked is the steady-state path: track, estimate, smooth,
// classify, adapt.
func (e *Engine) trackFrameLocked(gray *stab.GrayFrame, pyr *feature.Pyramid, m *FrameMetrics, active stab.Params) (stab.Transform, error) {
	t0 := e.now()
	corr, err := e.tracker.Track(e.prevPyramid, pyr)
	m.Timings.TrackNanos = e.now().Sub(t0).Nanoseconds()
	if err != nil {
		e.noteFailureLocked(err)
		e.prevPyramid = nil
		return stab.Identity(), err
	}
	m.TrackedPoints = len(corr.Prev)
	m.ValidPoints = corr.ValidCount()

	t1 := e.now()
	res, ok := e.estimator.Estimate(corr)
	m.Timings.EstimateNanos = e.now().Sub(t1).Nanoseconds()
	m.Motion = res.Transform
	m.Inliers = res.Inliers

	if !ok && res.Pairs < estimate.MinCorrespondences {
		// Too few usable correspondences is a tracking failure: it counts
		// toward the ceiling and forces re-detection next frame.
		ferr := fmt.Errorf("%w: %d of %d correspondences usable",
			stab.ErrTrackingFailure, res.Pairs, m.TrackedPoints)
		e.prevPyramid = nil
		e.noteFailureLocked(ferr)
		return stab.Identity(), ferr
	}

	e.prevPyramid = pyr
	e.tracker.Advance(corr)
	if e.tracker.NeedsRefresh() {
		t2 := e.now()
		e.tracker.Refresh(gray)
		m.Timings.DetectNanos += e.now().Sub(t2).Nanoseconds()
	}

	var ferr error
	if !ok {
		// Enough pairs but no sound fit: discard the estimate. Nothing is
		// pushed, so the corrective below reuses the smoothed history.
		ferr = fmt.Errorf("%w: no consensus over %d pairs",
			stab.ErrTransformDegenerate, res.Pairs)
		e.enterDegradedLocked("degenerate estimate")
	} else {
		e.consecutiveFailures = 0
		if res.Inliers < degradedInlierFloor {
			e.enterDegradedLocked("thin inlier support")
		} else if e.state == StateDegraded || e.state == StateErrorRecovery {
			e.setStateLocked(StateActive, "clean frame")
		}
		e.smoother.Push(res.Transform)
		e.classifier.Observe(res.Transform)
	}

	regime, cm := e.classifier.Classify()
	m.Regime = regime.String()
	m.Classifier = cm
	next := e.controller.Observe(regime)
	if next != active {
		e.applyAdaptedLocked(next)
	}

	corrective := e.smoother.Corrective()
	maxPx := active.MaxCorrection / 100.0 * frameDiagonal(gray)
	corrective = smooth.LimitTranslation(corrective, maxPx)
	m.Corrective = corrective
	return corrective, ferr
}

// finishFrameLocked closes out per-frame accounting and notifies the
// recorder.
func (e *Engine) finishFrameLocked(m *FrameMetrics, start time.Time, corrective stab.Transform) {
	m.State = e.state.String()
	if m.Regime == "" {
		m.Regime = e.controller.Regime().String()
	}
	m.StabilityScore = stabilityScore(corrective)
	m.Timings.TotalNanos = e.now().Sub(start).Nanoseconds()
	m.Failures = e.consecutiveFailures

	e.agg.FramesProcessed++
	e.agg.StabilityScore = m.StabilityScore
	e.agg.LastFrameNanos = m.Timings.TotalNanos
	if e.state == StateDegraded {
		e.agg.FramesDegraded++
	}

	if e.recorder != nil {
		e.recorder.RecordFrame(*m)
	}
	stab.Tracef("engine %s: frame %d state=%s regime=%s points=%d/%d score=%.3f",
		e.id, m.FrameIndex, m.State, m.Regime, m.ValidPoints, m.TrackedPoints, m.StabilityScore)
}

// applyParamsLocked pushes a new base parameter set into every stage via
// the adaptive controller.
func (e *Engine) applyParamsLocked(p stab.Params) {
	e.controller.SetBase(p)
	e.classifier.SetSensitivity(p.MotionSensitivity)
	e.applyAdaptedLocked(e.controller.Params())
	stab.Opsf("engine %s: params updated", e.id)
}

// applyAdaptedLocked distributes the controller's live parameter set to
// the tracker and smoother.
func (e *Engine) applyAdaptedLocked(p stab.Params) {
	tcfg := e.tracker.Config()
	tcfg.Detector.MaxFeatures = p.FeatureCount
	tcfg.Detector.QualityLevel = p.QualityLevel
	tcfg.Detector.MinDistance = p.MinDistance
	tcfg.Detector.BlockSize = p.BlockSize
	tcfg.Flow.ErrorCeiling = p.ErrorThreshold
	tcfg.RefreshThreshold = p.RefreshThreshold
	tcfg.RefreshInterval = p.RefreshInterval
	e.tracker.SetConfig(tcfg)

	e.smoother.SetConfig(smooth.Config{
		Radius:                  p.SmoothingRadius,
		UseHighPass:             p.UseHighPass,
		HighPassAttenuation:     p.HighPassAttenuation,
		UseDirectionalSmoothing: p.UseDirectionalSmoothing,
	})
}

// pushParamsLocked keeps tracker and smoother aligned with the
// controller's live set during transitions.
func (e *Engine) pushParamsLocked(p stab.Params) {
	if e.controller.Transitioning() {
		e.applyAdaptedLocked(p)
	}
}

// noteFailureLocked counts a hard frame failure and drives the state
// machine toward ErrorRecovery or Failed.
func (e *Engine) noteFailureLocked(err error) {
	e.consecutiveFailures++
	e.agg.FramesFailed++
	stab.Diagf("engine %s: frame failure %d/%d: %v", e.id, e.consecutiveFailures, e.maxFailures, err)

	if e.consecutiveFailures > e.maxFailures {
		e.resetPipelineLocked()
		e.setStateLocked(StateFailed, fmt.Sprintf("failure ceiling: %v", err))
		stab.Opsf("engine %s: failure ceiling hit, engine failed", e.id)
		return
	}
	e.smoother.Reset()
	e.classifier.Reset()
	e.setStateLocked(StateErrorRecovery, err.Error())
}

// enterDegradedLocked moves Active to Degraded. Other states are left
// alone: warm-up and recovery states already imply degraded output.
func (e *Engine) enterDegradedLocked(reason string) {
	if e.state == StateActive {
		e.setStateLocked(StateDegraded, reason)
	}
}

// setStateLocked records a state change and notifies the recorder.
func (e *Engine) setStateLocked(next State, reason string) {
	if e.state == next {
		return
	}
	prev := e.state
	e.state = next
	e.agg.StateChanges++
	if e.recorder != nil {
		e.recorder.RecordStateChange(e.frameIndex, prev, next, reason)
	}
	stab.Diagf("engine %s: state %s -> %s (%s)", e.id, prev, next, reason)
}

// stabilityScore collapses the correction into a [0, 1] quality score: 1
// means no correction was needed, 0 means the correction hit 100 px.
func stabilityScore(corrective stab.Transform) float64 {
	s := 1.0 - corrective.TranslationMagnitude()/100.0
	if s < 0 {
		return 0
	}
	return s
}

func frameDiagonal(f *stab.GrayFrame) float64 {
	return math.Hypot(float64(f.Width), float64(f.Height))
}
