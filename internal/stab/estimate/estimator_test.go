package estimate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloframe/steady.video/internal/stab"
)

// makeCorr builds a correspondence set by mapping a point cloud through t,
// optionally corrupting a fraction of the pairs.
func makeCorr(t stab.Transform, n int, outliers int, seed int64) *stab.Correspondences {
	rng := rand.New(rand.NewSource(seed))
	corr := &stab.Correspondences{
		Prev:  make([]stab.Point, n),
		Curr:  make([]stab.Point, n),
		Valid: make([]bool, n),
		Err:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		p := stab.Point{X: 50 + rng.Float64()*500, Y: 50 + rng.Float64()*300}
		x, y := t.Apply(p.X, p.Y)
		corr.Prev[i] = p
		corr.Curr[i] = stab.Point{X: x, Y: y}
		corr.Valid[i] = true
	}
	for i := 0; i < outliers; i++ {
		corr.Curr[i].X += 40 + rng.Float64()*40
		corr.Curr[i].Y -= 40 + rng.Float64()*40
	}
	return corr
}

func TestSimilarityFromTwoTranslation(t *testing.T) {
	p1 := stab.Point{X: 10, Y: 10}
	p2 := stab.Point{X: 40, Y: 30}
	tr, ok := similarityFromTwo(p1, p2,
		stab.Point{X: 15, Y: 15}, stab.Point{X: 45, Y: 35})
	require.True(t, ok)
	assert.InDelta(t, 1.0, tr.A, 1e-9)
	assert.InDelta(t, 0.0, tr.B, 1e-9)
	assert.InDelta(t, 5.0, tr.TX, 1e-9)
	assert.InDelta(t, 5.0, tr.TY, 1e-9)

	x, y := tr.Apply(10, 10)
	assert.InDelta(t, 15.0, x, 1e-9)
	assert.InDelta(t, 15.0, y, 1e-9)
}

func TestSimilarityFromTwoRotation(t *testing.T) {
	angle := 0.3
	truth := stab.Transform{
		A: math.Cos(angle), B: math.Sin(angle), TX: 2,
		C: -math.Sin(angle), D: math.Cos(angle), TY: -1,
	}
	p1 := stab.Point{X: 100, Y: 50}
	p2 := stab.Point{X: 220, Y: 180}
	q1x, q1y := truth.Apply(p1.X, p1.Y)
	q2x, q2y := truth.Apply(p2.X, p2.Y)

	tr, ok := similarityFromTwo(p1, p2,
		stab.Point{X: q1x, Y: q1y}, stab.Point{X: q2x, Y: q2y})
	require.True(t, ok)
	assert.InDelta(t, truth.A, tr.A, 1e-9)
	assert.InDelta(t, truth.B, tr.B, 1e-9)
	assert.InDelta(t, truth.TX, tr.TX, 1e-6)
	assert.InDelta(t, truth.TY, tr.TY, 1e-6)
}

func TestEstimateIdentity(t *testing.T) {
	e := New(DefaultConfig())
	res, ok := e.Estimate(makeCorr(stab.Identity(), 50, 0, 1))
	require.True(t, ok)
	assert.True(t, res.Transform.IsIdentity(), "got %s", res.Transform)
	assert.Equal(t, 50, res.Inliers)
}

func TestEstimateTranslation(t *testing.T) {
	truth := stab.Transform{A: 1, D: 1, TX: 7.5, TY: -3.25}
	e := New(DefaultConfig())
	res, ok := e.Estimate(makeCorr(truth, 80, 0, 2))
	require.True(t, ok)
	assert.InDelta(t, 7.5, res.Transform.TX, 1e-6)
	assert.InDelta(t, -3.25, res.Transform.TY, 1e-6)
	assert.Less(t, res.RMSError, 1e-6)
}

func TestEstimateSimilarity(t *testing.T) {
	angle := 0.05
	s := 1.02
	truth := stab.Transform{
		A: s * math.Cos(angle), B: s * math.Sin(angle), TX: 4,
		C: -s * math.Sin(angle), D: s * math.Cos(angle), TY: -2,
	}
	e := New(DefaultConfig())
	res, ok := e.Estimate(makeCorr(truth, 60, 0, 3))
	require.True(t, ok)
	assert.InDelta(t, truth.A, res.Transform.A, 1e-6)
	assert.InDelta(t, truth.B, res.Transform.B, 1e-6)
	assert.InDelta(t, truth.TX, res.Transform.TX, 1e-4)
	assert.InDelta(t, truth.TY, res.Transform.TY, 1e-4)
}

func TestEstimateRejectsOutliers(t *testing.T) {
	truth := stab.Transform{A: 1, D: 1, TX: 5, TY: 5}
	e := New(DefaultConfig())
	// 20% gross outliers must not move the fit.
	res, ok := e.Estimate(makeCorr(truth, 100, 20, 4))
	require.True(t, ok)
	assert.InDelta(t, 5.0, res.Transform.TX, 0.1)
	assert.InDelta(t, 5.0, res.Transform.TY, 0.1)
	assert.GreaterOrEqual(t, res.Inliers, 80)
	assert.Less(t, res.Inliers, 100)
}

func TestEstimateInsufficientPairs(t *testing.T) {
	e := New(DefaultConfig())
	res, ok := e.Estimate(makeCorr(stab.Identity(), MinCorrespondences-1, 0, 5))
	assert.False(t, ok)
	assert.True(t, res.Transform.IsIdentity())
}

func TestEstimateIgnoresInvalidPairs(t *testing.T) {
	corr := makeCorr(stab.Identity(), 20, 0, 6)
	for i := range corr.Valid {
		corr.Valid[i] = i < MinCorrespondences-1
	}
	e := New(DefaultConfig())
	_, ok := e.Estimate(corr)
	assert.False(t, ok)
}

func TestEstimateRejectsExcessiveTranslation(t *testing.T) {
	truth := stab.Transform{A: 1, D: 1, TX: 500}
	cfg := DefaultConfig()
	cfg.MaxTranslation = 100
	e := New(cfg)
	res, ok := e.Estimate(makeCorr(truth, 50, 0, 7))
	assert.False(t, ok)
	assert.True(t, res.Transform.IsIdentity())
}

func TestEstimateDeterministic(t *testing.T) {
	truth := stab.Transform{A: 1, D: 1, TX: 2, TY: 3}
	e := New(DefaultConfig())
	corr := makeCorr(truth, 60, 10, 8)

	first, ok := e.Estimate(corr)
	require.True(t, ok)
	second, ok := e.Estimate(corr)
	require.True(t, ok)
	assert.Equal(t, first, second)
}
