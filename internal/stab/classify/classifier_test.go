package classify

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloframe/steady.video/internal/stab"
)

func shift(dx, dy float64) stab.Transform {
	t := stab.Identity()
	t.TX = dx
	t.TY = dy
	return t
}

func newTestClassifier() *Classifier {
	return New(DefaultThresholds(), DefaultWindow)
}

func TestColdWindowIsStatic(t *testing.T) {
	c := newTestClassifier()
	for i := 0; i < MinHistory-1; i++ {
		c.Observe(shift(100, 100))
		regime, m := c.Classify()
		assert.Equal(t, RegimeStatic, regime)
		assert.Equal(t, i+1, m.Samples)
	}
}

func TestStaticRegime(t *testing.T) {
	c := newTestClassifier()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < DefaultWindow; i++ {
		c.Observe(shift(rng.NormFloat64()*0.3, rng.NormFloat64()*0.3))
	}
	regime, m := c.Classify()
	assert.Equal(t, RegimeStatic, regime)
	assert.Less(t, m.MeanMagnitude, 6.0)
}

func TestSlowMotionRegime(t *testing.T) {
	c := newTestClassifier()
	rng := rand.New(rand.NewSource(2))
	heading := 0.0
	for i := 0; i < DefaultWindow; i++ {
		heading += rng.NormFloat64() * 0.4
		c.Observe(shift(9*math.Cos(heading), 9*math.Sin(heading)))
	}
	regime, _ := c.Classify()
	assert.Equal(t, RegimeSlowMotion, regime)
}

func TestFastMotionRegime(t *testing.T) {
	c := newTestClassifier()
	rng := rand.New(rand.NewSource(3))
	heading := 0.0
	for i := 0; i < DefaultWindow; i++ {
		heading += rng.NormFloat64() * 0.5
		s := 20 + 10*rng.Float64()
		c.Observe(shift(s*math.Cos(heading), s*math.Sin(heading)))
	}
	regime, m := c.Classify()
	assert.Equal(t, RegimeFastMotion, regime)
	assert.Greater(t, m.MeanMagnitude, 15.0)
}

func TestVeryLargeMotionIsFast(t *testing.T) {
	c := newTestClassifier()
	rng := rand.New(rand.NewSource(5))
	heading := 0.0
	for i := 0; i < DefaultWindow; i++ {
		heading += rng.NormFloat64() * 0.5
		s := 60 + 20*rng.Float64()
		c.Observe(shift(s*math.Cos(heading), s*math.Sin(heading)))
	}
	regime, m := c.Classify()
	assert.Equal(t, RegimeFastMotion, regime)
	assert.Greater(t, m.MeanMagnitude, DefaultThresholds().FastMagnitude)
}

func TestCameraShakeRegime(t *testing.T) {
	c := newTestClassifier()
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < DefaultWindow; i++ {
		sign := 1.0
		if i%2 == 1 {
			sign = -1.0
		}
		a := 8 + 10*rng.Float64()
		c.Observe(shift(sign*a, -sign*a*0.5))
	}
	regime, m := c.Classify()
	assert.Equal(t, RegimeCameraShake, regime)
	assert.Greater(t, m.HighFrequencyRatio, 0.7)
}

func TestPanZoomRegime(t *testing.T) {
	c := newTestClassifier()
	for i := 0; i < DefaultWindow; i++ {
		c.Observe(shift(12, 1))
	}
	regime, m := c.Classify()
	assert.Equal(t, RegimePanZoom, regime)
	assert.Greater(t, m.Consistency, 0.96)
}

func TestWindowEvictsOldSamples(t *testing.T) {
	c := newTestClassifier()
	// Fill with shake, then a full window of steady pan: the shake must
	// age out entirely.
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < DefaultWindow; i++ {
		sign := 1.0
		if i%2 == 1 {
			sign = -1.0
		}
		c.Observe(shift(sign*(8+10*rng.Float64()), 0))
	}
	for i := 0; i < DefaultWindow; i++ {
		c.Observe(shift(12, 1))
	}
	regime, _ := c.Classify()
	assert.Equal(t, RegimePanZoom, regime)
	assert.Equal(t, DefaultWindow, c.Len())
}

func TestSensitivityLowersThresholds(t *testing.T) {
	// Motion just under the static cut point: default sensitivity keeps
	// it static, doubled sensitivity escalates it.
	observe := func(c *Classifier) {
		rng := rand.New(rand.NewSource(6))
		heading := 0.0
		for i := 0; i < DefaultWindow; i++ {
			heading += rng.NormFloat64() * 0.4
			c.Observe(shift(4.5*math.Cos(heading), 4.5*math.Sin(heading)))
		}
	}

	normal := newTestClassifier()
	observe(normal)
	regime, _ := normal.Classify()
	assert.Equal(t, RegimeStatic, regime)

	sensitive := newTestClassifier()
	sensitive.SetSensitivity(2.0)
	observe(sensitive)
	regime, _ = sensitive.Classify()
	assert.Equal(t, RegimeSlowMotion, regime)
}

func TestScaledClampsSensitivity(t *testing.T) {
	th := DefaultThresholds()
	out := th.Scaled(10.0)
	require.Equal(t, th.StaticMagnitude/stab.MaxMotionSensitivity, out.StaticMagnitude)
	// Ratio cut points are never scaled.
	assert.Equal(t, th.HighFrequencyRatio, out.HighFrequencyRatio)
	assert.Equal(t, th.ConsistencyScore, out.ConsistencyScore)
}

func TestReset(t *testing.T) {
	c := newTestClassifier()
	for i := 0; i < DefaultWindow; i++ {
		c.Observe(shift(50, 0))
	}
	c.Reset()
	assert.Zero(t, c.Len())
	regime, _ := c.Classify()
	assert.Equal(t, RegimeStatic, regime)
}

func TestRegimeString(t *testing.T) {
	assert.Equal(t, "static", RegimeStatic.String())
	assert.Equal(t, "camera_shake", RegimeCameraShake.String())
	assert.Equal(t, "unknown", Regime(99).String())
}
