package feature

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloframe/steady.video/internal/stab"
	"github.com/veloframe/steady.video/internal/stab/synth"
)

func testDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxFeatures:  100,
		QualityLevel: 0.01,
		MinDistance:  10,
		BlockSize:    3,
	}
}

func TestDetectCornersOnTexture(t *testing.T) {
	scene := synth.NewScene(320, 240, 7)
	frame := scene.FrameAt(0, 0)

	corners := DetectCorners(frame, testDetectorConfig())
	require.NotEmpty(t, corners)
	assert.LessOrEqual(t, len(corners), 100)

	// Minimum pairwise distance must hold.
	for i := range corners {
		for j := i + 1; j < len(corners); j++ {
			d := math.Hypot(corners[i].X-corners[j].X, corners[i].Y-corners[j].Y)
			assert.GreaterOrEqual(t, d, 10.0,
				"corners %d and %d too close: %v %v", i, j, corners[i], corners[j])
		}
	}
}

func TestDetectCornersRejectsTinyFrame(t *testing.T) {
	frame := stab.NewGrayFrame(stab.MinFrameDim-1, 100)
	assert.Nil(t, DetectCorners(frame, testDetectorConfig()))
}

func TestDetectCornersFlatFrame(t *testing.T) {
	// A uniform frame has no corner response at all.
	frame := stab.NewGrayFrame(100, 100)
	for i := range frame.Pix {
		frame.Pix[i] = 128
	}
	assert.Empty(t, DetectCorners(frame, testDetectorConfig()))
}

func TestDetectCornersBudget(t *testing.T) {
	scene := synth.NewScene(320, 240, 7)
	frame := scene.FrameAt(0, 0)

	cfg := testDetectorConfig()
	cfg.MaxFeatures = 10
	cfg.MinDistance = 3
	corners := DetectCorners(frame, cfg)
	assert.Len(t, corners, 10)
}

func TestBuildPyramid(t *testing.T) {
	frame := stab.NewGrayFrame(320, 240)
	p := BuildPyramid(frame, 3, 21)
	require.Len(t, p.Levels, 3)
	assert.Equal(t, 320, p.Levels[0].Width)
	assert.Equal(t, 160, p.Levels[1].Width)
	assert.Equal(t, 80, p.Levels[2].Width)
	assert.Equal(t, 60, p.Levels[2].Height)
}

func TestBuildPyramidStopsAtMinimum(t *testing.T) {
	frame := stab.NewGrayFrame(64, 64)
	p := BuildPyramid(frame, 5, 21)
	// 32x32 would fall below 2x the 21 px window.
	assert.Len(t, p.Levels, 1)
}

func TestTrackRecoversKnownShift(t *testing.T) {
	scene := synth.NewScene(320, 240, 11)
	prev := scene.FrameAt(0, 0)
	// Camera moves by (+3.5, -2.25); scene content shifts the opposite way.
	curr := scene.FrameAt(3.5, -2.25)

	points := DetectCorners(prev, testDetectorConfig())
	require.GreaterOrEqual(t, len(points), 20)

	cfg := DefaultFlowConfig()
	prevPyr := BuildPyramid(prev, cfg.PyramidLevels, 2*cfg.WindowRadius+1)
	currPyr := BuildPyramid(curr, cfg.PyramidLevels, 2*cfg.WindowRadius+1)

	corr := Track(prevPyr, currPyr, points, cfg)
	require.GreaterOrEqual(t, corr.ValidCount(), len(points)/2)

	var dxs, dys []float64
	for i, v := range corr.Valid {
		if !v {
			continue
		}
		dxs = append(dxs, corr.Curr[i].X-corr.Prev[i].X)
		dys = append(dys, corr.Curr[i].Y-corr.Prev[i].Y)
	}
	assert.InDelta(t, -3.5, median(dxs), 0.5)
	assert.InDelta(t, 2.25, median(dys), 0.5)
}

func TestTrackMarksOutOfBoundsInvalid(t *testing.T) {
	scene := synth.NewScene(320, 240, 11)
	frame := scene.FrameAt(0, 0)
	cfg := DefaultFlowConfig()
	pyr := BuildPyramid(frame, cfg.PyramidLevels, 2*cfg.WindowRadius+1)

	// A point already outside the frame cannot land anywhere valid.
	corr := Track(pyr, pyr, []stab.Point{{X: -40, Y: -40}, {X: 100, Y: 100}}, cfg)
	assert.Len(t, corr.Valid, 2)
	assert.True(t, corr.Valid[1], "interior point on identical frames should track")
}

func TestTrackerLifecycle(t *testing.T) {
	scene := synth.NewScene(320, 240, 3)
	frame := scene.FrameAt(0, 0)

	cfg := TrackerConfigFromParams(stab.DefaultParams())
	tracker := NewTracker(cfg)

	require.NotEmpty(t, tracker.Initialize(frame))
	require.Greater(t, tracker.PointCount(), 0)

	pyr := BuildPyramid(frame, cfg.Flow.PyramidLevels, 2*cfg.Flow.WindowRadius+1)
	corr, err := tracker.Track(pyr, pyr)
	require.NoError(t, err)
	tracker.Advance(corr)
	assert.Greater(t, tracker.PointCount(), 0)

	tracker.Reset()
	assert.Zero(t, tracker.PointCount())

	_, err = tracker.Track(pyr, pyr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stab.ErrTrackingFailure))
}

func TestTrackerRefreshPolicy(t *testing.T) {
	cfg := TrackerConfigFromParams(stab.DefaultParams())
	cfg.RefreshThreshold = 0.5
	cfg.Detector.MaxFeatures = 100
	cfg.RefreshInterval = 5
	tracker := NewTracker(cfg)

	// Below half the budget triggers a refresh.
	tracker.points = make([]stab.Point, 49)
	assert.True(t, tracker.NeedsRefresh())

	tracker.points = make([]stab.Point, 80)
	assert.False(t, tracker.NeedsRefresh())

	// The frame interval triggers regardless of survival.
	tracker.framesSinceDetection = 5
	assert.True(t, tracker.NeedsRefresh())
}

func median(xs []float64) float64 {
	sort.Float64s(xs)
	return xs[len(xs)/2]
}
