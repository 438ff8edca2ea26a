package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloframe/steady.video/internal/config"
	"github.com/veloframe/steady.video/internal/stab"
	"github.com/veloframe/steady.video/internal/stab/synth"
)

// flatFrame is featureless: no corners to detect, nothing to track.
func flatFrame(w, h int) *stab.HostFrame {
	g := stab.NewGrayFrame(w, h)
	for i := range g.Pix {
		g.Pix[i] = 128
	}
	return &stab.HostFrame{
		Format:  stab.FormatGray8,
		Width:   w,
		Height:  h,
		Planes:  [][]uint8{g.Pix},
		Strides: []int{g.Stride},
	}
}

// captureRecorder collects everything the engine reports.
type captureRecorder struct {
	frames  []FrameMetrics
	changes []stateChange
}

type stateChange struct {
	frameIndex int64
	from, to   State
	reason     string
}

func (r *captureRecorder) RecordFrame(m FrameMetrics) {
	r.frames = append(r.frames, m)
}

func (r *captureRecorder) RecordStateChange(frameIndex int64, from, to State, reason string) {
	r.changes = append(r.changes, stateChange{frameIndex, from, to, reason})
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func newStartedEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = fixedClock()
	}
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	return e
}

func TestProcessBeforeStart(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, StateInactive, e.State())

	scene := synth.NewScene(320, 240, 1)
	_, err = e.Process(scene.HostFrameAt(0, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stab.ErrConfiguration))
}

func TestStartTwiceFails(t *testing.T) {
	e := newStartedEngine(t, Config{})
	err := e.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, stab.ErrConfiguration))
}

func TestWarmupToActive(t *testing.T) {
	e := newStartedEngine(t, Config{})
	assert.Equal(t, StateInitializing, e.State())

	scene := synth.NewScene(320, 240, 2)
	out, err := e.Process(scene.HostFrameAt(0, 0))
	require.NoError(t, err)
	assert.True(t, out.IsIdentity(), "warm-up frame must return identity")
	assert.Equal(t, StateActive, e.State())
}

func TestStaticSceneStaysNearIdentity(t *testing.T) {
	e := newStartedEngine(t, Config{})
	scene := synth.NewScene(320, 240, 3)
	script := synth.StaticScript(3)

	for i := 0; i < 20; i++ {
		ox, oy := script(i)
		out, err := e.Process(scene.HostFrameAt(ox, oy))
		require.NoError(t, err, "frame %d", i)
		assert.Less(t, out.TranslationMagnitude(), 3.0, "frame %d", i)
	}
	assert.Equal(t, StateActive, e.State())

	m := e.Metrics()
	assert.Equal(t, int64(20), m.FramesProcessed)
	assert.Zero(t, m.FramesFailed)
	assert.GreaterOrEqual(t, m.StabilityScore, 0.0)
	assert.LessOrEqual(t, m.StabilityScore, 1.0)
}

func TestShakeSceneProducesCorrection(t *testing.T) {
	e := newStartedEngine(t, Config{})
	scene := synth.NewScene(320, 240, 4)
	script := synth.ShakeScript(5.0, 4)

	var maxCorr float64
	var last stab.Transform
	for i := 0; i < 30; i++ {
		ox, oy := script(i)
		out, err := e.Process(scene.HostFrameAt(ox, oy))
		require.NoError(t, err, "frame %d", i)
		last = out
		if mag := out.TranslationMagnitude(); mag > maxCorr {
			maxCorr = mag
		}
	}
	assert.Greater(t, maxCorr, 0.5, "shake must draw a nonzero correction")
	assert.Equal(t, last, e.PendingCorrection())
}

func TestConstantPanStaysBounded(t *testing.T) {
	e := newStartedEngine(t, Config{})
	scene := synth.NewScene(320, 240, 12)

	// Constant 8 px/frame rightward pan across the scene.
	var correctives []float64
	for i := 0; i < 36; i++ {
		out, err := e.Process(scene.HostFrameAt(-150+8*float64(i), 0))
		require.NoError(t, err, "frame %d", i)
		correctives = append(correctives, out.TranslationMagnitude())
	}

	assert.Equal(t, "pan_zoom", e.Metrics().Regime)

	// The camera has travelled ~280 px by now; the correction must track
	// the per-frame motion, not the accumulated path.
	for i := 20; i < len(correctives); i++ {
		assert.Less(t, correctives[i], 20.0, "frame %d", i)
	}
}

func TestUndersizedFrameDegrades(t *testing.T) {
	e := newStartedEngine(t, Config{})
	scene := synth.NewScene(320, 240, 5)
	_, err := e.Process(scene.HostFrameAt(0, 0))
	require.NoError(t, err)
	require.Equal(t, StateActive, e.State())

	tiny := stab.NewGrayFrame(stab.MinFrameDim-1, stab.MinFrameDim-1)
	out, err := e.Process(&stab.HostFrame{
		Format:  stab.FormatGray8,
		Width:   tiny.Width,
		Height:  tiny.Height,
		Planes:  [][]uint8{tiny.Pix},
		Strides: []int{tiny.Stride},
	})
	require.NoError(t, err, "undersized frames pass through, they do not fail")
	assert.True(t, out.IsIdentity())
	assert.Equal(t, StateDegraded, e.State())

	// A clean full-size frame restores Active.
	_, err = e.Process(scene.HostFrameAt(0.1, 0))
	require.NoError(t, err)
	assert.Equal(t, StateActive, e.State())
	assert.Equal(t, int64(1), e.Metrics().FramesDegraded)
}

func TestPanicIsContained(t *testing.T) {
	e := newStartedEngine(t, Config{})

	out, err := e.Process(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stab.ErrUnknownFault))
	assert.True(t, out.IsIdentity())
	assert.Equal(t, StateErrorRecovery, e.State())
}

func TestFailureCeiling(t *testing.T) {
	e := newStartedEngine(t, Config{})
	maxFailures := e.maxFailures

	for i := 0; i < maxFailures; i++ {
		_, err := e.Process(nil)
		require.Error(t, err)
		require.NotEqual(t, StateFailed, e.State(), "failed too early at %d", i+1)
	}
	_, err := e.Process(nil)
	require.Error(t, err)
	assert.Equal(t, StateFailed, e.State())

	// Terminal until reset.
	scene := synth.NewScene(320, 240, 6)
	_, err = e.Process(scene.HostFrameAt(0, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stab.ErrRepeatedFailure))

	e.Reset()
	assert.Equal(t, StateInitializing, e.State())
	_, err = e.Process(scene.HostFrameAt(0, 0))
	require.NoError(t, err)
	assert.Equal(t, StateActive, e.State())
}

func TestFeaturelessFramesReachFailureCeiling(t *testing.T) {
	e := newStartedEngine(t, Config{})
	scene := synth.NewScene(320, 240, 13)
	_, err := e.Process(scene.HostFrameAt(0, 0))
	require.NoError(t, err)
	require.Equal(t, StateActive, e.State())

	flat := flatFrame(320, 240)
	_, err = e.Process(flat)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stab.ErrTrackingFailure))
	assert.Equal(t, StateErrorRecovery, e.State())

	for i := 0; i < 14; i++ {
		_, perr := e.Process(flat)
		require.Error(t, perr, "flat frame %d", i)
	}
	assert.Equal(t, StateFailed, e.State())

	// Terminal even for good frames, until reset.
	_, err = e.Process(scene.HostFrameAt(0, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stab.ErrRepeatedFailure))

	e.Reset()
	_, err = e.Process(scene.HostFrameAt(0, 0))
	require.NoError(t, err)
	assert.Equal(t, StateActive, e.State())
}

func TestDegenerateEstimateReusesHistory(t *testing.T) {
	// A max_translation of half a pixel makes any real camera jump an
	// implausible fit while leaving static frames fine.
	tiny := 0.5
	tuning := config.EmptyTuningConfig()
	tuning.MaxTranslation = &tiny
	e := newStartedEngine(t, Config{Tuning: tuning})
	scene := synth.NewScene(320, 240, 14)

	_, err := e.Process(scene.HostFrameAt(0, 0))
	require.NoError(t, err)
	_, err = e.Process(scene.HostFrameAt(0, 0))
	require.NoError(t, err)
	require.Equal(t, StateActive, e.State())

	out, err := e.Process(scene.HostFrameAt(6, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stab.ErrTransformDegenerate))
	assert.Equal(t, StateDegraded, e.State())
	// The discarded estimate never enters the history: the correction
	// still reflects the quiet frames, not the 6 px jump.
	assert.Less(t, out.TranslationMagnitude(), 1.0)
	assert.Zero(t, e.Metrics().FramesFailed)

	// A quiet frame at the new offset estimates cleanly again.
	_, err = e.Process(scene.HostFrameAt(6, 0))
	require.NoError(t, err)
	assert.Equal(t, StateActive, e.State())
}

func TestRecoveryAfterFailure(t *testing.T) {
	e := newStartedEngine(t, Config{})
	scene := synth.NewScene(320, 240, 7)
	_, err := e.Process(scene.HostFrameAt(0, 0))
	require.NoError(t, err)

	_, err = e.Process(nil)
	require.Error(t, err)
	require.Equal(t, StateErrorRecovery, e.State())

	// Next good frame re-detects and recovers.
	_, err = e.Process(scene.HostFrameAt(0.5, 0))
	require.NoError(t, err)
	assert.Equal(t, StateActive, e.State())
	assert.Equal(t, int64(1), e.Metrics().FramesFailed)
}

func TestUpdateParamsAppliedAtFrameBoundary(t *testing.T) {
	e := newStartedEngine(t, Config{})
	scene := synth.NewScene(320, 240, 8)

	p := stab.DefaultParams()
	p.MinDistance = 25
	e.UpdateParams(p)
	// Staged, not yet applied.
	assert.NotEqual(t, 25.0, e.Params().MinDistance)

	_, err := e.Process(scene.HostFrameAt(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 25.0, e.Params().MinDistance)
}

func TestUpdateParamsClampsOutOfRange(t *testing.T) {
	e := newStartedEngine(t, Config{})
	scene := synth.NewScene(320, 240, 9)

	p := stab.DefaultParams()
	p.SmoothingRadius = 10000
	e.UpdateParams(p)
	_, err := e.Process(scene.HostFrameAt(0, 0))
	require.NoError(t, err)
	assert.LessOrEqual(t, e.Params().SmoothingRadius, stab.MaxSmoothingRadius)
}

func TestRecorderReceivesFramesAndStateChanges(t *testing.T) {
	rec := &captureRecorder{}
	e := newStartedEngine(t, Config{Recorder: rec})
	scene := synth.NewScene(320, 240, 10)

	for i := 0; i < 5; i++ {
		_, err := e.Process(scene.HostFrameAt(float64(i)*0.2, 0))
		require.NoError(t, err)
	}

	require.Len(t, rec.frames, 5)
	assert.Equal(t, int64(1), rec.frames[0].FrameIndex)
	assert.Equal(t, StateActive.String(), rec.frames[1].State)
	assert.NotEmpty(t, rec.frames[1].Regime)
	assert.False(t, rec.frames[0].Timestamp.IsZero())

	// start (inactive -> initializing) and initialized (-> active).
	require.GreaterOrEqual(t, len(rec.changes), 2)
	assert.Equal(t, StateInactive, rec.changes[0].from)
	assert.Equal(t, StateInitializing, rec.changes[0].to)
	assert.Equal(t, StateActive, rec.changes[1].to)
}

func TestDeterministicAcrossInstances(t *testing.T) {
	run := func() []stab.Transform {
		e := newStartedEngine(t, Config{})
		scene := synth.NewScene(320, 240, 11)
		script := synth.ShakeScript(3.0, 11)
		var out []stab.Transform
		for i := 0; i < 15; i++ {
			ox, oy := script(i)
			c, err := e.Process(scene.HostFrameAt(ox, oy))
			require.NoError(t, err)
			out = append(out, c)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "inactive", StateInactive.String())
	assert.Equal(t, "error_recovery", StateErrorRecovery.String())
	assert.Equal(t, "unknown", State(42).String())
}
