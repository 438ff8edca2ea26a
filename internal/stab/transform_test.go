package stab

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	id := Identity()
	assert.True(t, id.IsIdentity())
	assert.True(t, id.IsFinite())
	assert.Equal(t, 0.0, id.Magnitude())
}

func TestTransformComponents(t *testing.T) {
	tr := Transform{A: 1, D: 1, TX: 3, TY: 4}
	dx, dy := tr.Translation()
	assert.Equal(t, 3.0, dx)
	assert.Equal(t, 4.0, dy)
	assert.InDelta(t, 5.0, tr.TranslationMagnitude(), 1e-12)
	assert.Equal(t, 0.0, tr.Rotation())
	assert.Equal(t, 0.0, tr.ScaleDeviation())
	assert.InDelta(t, 5.0, tr.Magnitude(), 1e-12)
}

func TestMagnitudeWeighting(t *testing.T) {
	// 1% uniform scale change contributes 2 units (|A-1| + |D-1| times 100).
	scaled := Transform{A: 1.01, D: 1.01}
	assert.InDelta(t, 2.0, scaled.Magnitude(), 1e-9)

	// A small rotation contributes 200*|angle|.
	angle := 0.01
	rot := Transform{A: math.Cos(angle), B: math.Sin(angle), C: -math.Sin(angle), D: math.Cos(angle)}
	assert.InDelta(t, 200*angle+rot.ScaleDeviation()*100, rot.Magnitude(), 1e-6)
}

func TestInvertRoundTrip(t *testing.T) {
	angle := 0.1
	tr := Transform{
		A: math.Cos(angle), B: -math.Sin(angle), TX: 12,
		C: math.Sin(angle), D: math.Cos(angle), TY: -7,
	}
	inv, ok := tr.Invert()
	require.True(t, ok)

	round := tr.Mul(inv)
	assert.True(t, round.IsIdentity(), "t * t^-1 should be identity, got %s", round)
}

func TestInvertSingular(t *testing.T) {
	inv, ok := (Transform{}).Invert()
	assert.False(t, ok)
	assert.True(t, inv.IsIdentity())
}

func TestApply(t *testing.T) {
	tr := Transform{A: 2, D: 2, TX: 1, TY: -1}
	x, y := tr.Apply(3, 4)
	assert.Equal(t, 7.0, x)
	assert.Equal(t, 7.0, y)
}

func TestInterpolateClamps(t *testing.T) {
	a := Identity()
	b := Transform{A: 1, D: 1, TX: 10}

	mid := Interpolate(a, b, 0.5)
	assert.InDelta(t, 5.0, mid.TX, 1e-12)

	below := Interpolate(a, b, -1)
	assert.Equal(t, a, below)

	above := Interpolate(a, b, 2)
	assert.Equal(t, b, above)
}

func TestAverageTransforms(t *testing.T) {
	assert.True(t, AverageTransforms(nil).IsIdentity())

	avg := AverageTransforms([]Transform{
		{A: 1, D: 1, TX: 2},
		{A: 1, D: 1, TX: 4},
	})
	assert.InDelta(t, 3.0, avg.TX, 1e-12)
	assert.InDelta(t, 1.0, avg.A, 1e-12)
}

func TestIsFiniteRejectsNaN(t *testing.T) {
	bad := Transform{A: math.NaN(), D: 1}
	assert.False(t, bad.IsFinite())
	assert.False(t, bad.IsReasonable(100))

	inf := Transform{A: 1, D: 1, TX: math.Inf(1)}
	assert.False(t, inf.IsFinite())
}

func TestIsReasonable(t *testing.T) {
	assert.True(t, Identity().IsReasonable(100))

	farAway := Transform{A: 1, D: 1, TX: 150}
	assert.False(t, farAway.IsReasonable(100))
	assert.True(t, farAway.IsReasonable(200))

	blownUp := Transform{A: 1.6, D: 1}
	assert.False(t, blownUp.IsReasonable(100))
}
