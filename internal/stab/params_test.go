package stab

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParamsAreValid(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
}

func TestClampInRangeIsNoop(t *testing.T) {
	p := DefaultParams()
	out, clamped := p.Clamp()
	assert.Empty(t, clamped)
	if diff := cmp.Diff(p, out); diff != "" {
		t.Errorf("clamp changed in-range params (-want +got):\n%s", diff)
	}
}

func TestClampOutOfRange(t *testing.T) {
	p := DefaultParams()
	p.SmoothingRadius = 1000
	p.MaxCorrection = -5
	p.FeatureCount = 3
	p.QualityLevel = 9.0
	p.MotionSensitivity = 0

	out, clamped := p.Clamp()
	assert.Equal(t, MaxSmoothingRadius, out.SmoothingRadius)
	assert.Equal(t, MinMaxCorrection, out.MaxCorrection)
	assert.Equal(t, MinFeatureCount, out.FeatureCount)
	assert.Equal(t, MaxQualityLevel, out.QualityLevel)
	assert.Equal(t, MinMotionSensitivity, out.MotionSensitivity)
	assert.ElementsMatch(t, clamped, []string{
		"smoothing_radius", "max_correction", "feature_count",
		"quality_level", "motion_sensitivity",
	})
}

func TestClampForcesOddBlockSize(t *testing.T) {
	p := DefaultParams()
	p.BlockSize = 8
	out, clamped := p.Clamp()
	assert.Equal(t, 7, out.BlockSize)
	assert.Contains(t, clamped, "block_size")
}

func TestValidateReportsConfigurationError(t *testing.T) {
	p := DefaultParams()
	p.RefreshInterval = 10000
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "refresh_interval")
}
