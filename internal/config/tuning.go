package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the replay and sweep tools' --tuning flag so the
// same JSON drives offline runs and shipped defaults.
type TuningConfig struct {
	// Classifier params
	StaticMagnitude    *float64 `json:"static_magnitude,omitempty"`
	SlowMagnitude      *float64 `json:"slow_magnitude,omitempty"`
	FastMagnitude      *float64 `json:"fast_magnitude,omitempty"`
	MagnitudeVariance  *float64 `json:"magnitude_variance,omitempty"`
	HighFrequencyRatio *float64 `json:"high_frequency_ratio,omitempty"`
	ConsistencyScore   *float64 `json:"consistency_score,omitempty"`
	ClassifierWindow   *int     `json:"classifier_window,omitempty"`

	// Adaptive controller params
	DebounceFrames *int `json:"debounce_frames,omitempty"`

	// Estimator params
	RansacIterations  *int     `json:"ransac_iterations,omitempty"`
	InlierThreshold   *float64 `json:"inlier_threshold,omitempty"`
	MinInlierFraction *float64 `json:"min_inlier_fraction,omitempty"`
	MaxTranslation    *float64 `json:"max_translation,omitempty"`

	// Optical flow params
	FlowWindowRadius  *int     `json:"flow_window_radius,omitempty"`
	FlowPyramidLevels *int     `json:"flow_pyramid_levels,omitempty"`
	FlowMaxIterations *int     `json:"flow_max_iterations,omitempty"`
	FlowEpsilon       *float64 `json:"flow_epsilon,omitempty"`

	// Engine params
	MaxConsecutiveFailures *int    `json:"max_consecutive_failures,omitempty"`
	MetricsFlushInterval   *string `json:"metrics_flush_interval,omitempty"` // duration string like "10s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/stab/classify/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.StaticMagnitude != nil && *c.StaticMagnitude <= 0 {
		return fmt.Errorf("static_magnitude must be positive, got %f", *c.StaticMagnitude)
	}
	if c.SlowMagnitude != nil && *c.SlowMagnitude <= 0 {
		return fmt.Errorf("slow_magnitude must be positive, got %f", *c.SlowMagnitude)
	}
	if c.FastMagnitude != nil && *c.FastMagnitude <= 0 {
		return fmt.Errorf("fast_magnitude must be positive, got %f", *c.FastMagnitude)
	}
	if c.StaticMagnitude != nil && c.SlowMagnitude != nil && *c.StaticMagnitude >= *c.SlowMagnitude {
		return fmt.Errorf("static_magnitude %f must be below slow_magnitude %f", *c.StaticMagnitude, *c.SlowMagnitude)
	}
	if c.SlowMagnitude != nil && c.FastMagnitude != nil && *c.SlowMagnitude >= *c.FastMagnitude {
		return fmt.Errorf("slow_magnitude %f must be below fast_magnitude %f", *c.SlowMagnitude, *c.FastMagnitude)
	}
	if c.HighFrequencyRatio != nil {
		if *c.HighFrequencyRatio < 0 || *c.HighFrequencyRatio > 1 {
			return fmt.Errorf("high_frequency_ratio must be between 0 and 1, got %f", *c.HighFrequencyRatio)
		}
	}
	if c.ConsistencyScore != nil {
		if *c.ConsistencyScore < 0 || *c.ConsistencyScore > 1 {
			return fmt.Errorf("consistency_score must be between 0 and 1, got %f", *c.ConsistencyScore)
		}
	}
	if c.MinInlierFraction != nil {
		if *c.MinInlierFraction < 0 || *c.MinInlierFraction > 1 {
			return fmt.Errorf("min_inlier_fraction must be between 0 and 1, got %f", *c.MinInlierFraction)
		}
	}
	if c.ClassifierWindow != nil && *c.ClassifierWindow < 5 {
		return fmt.Errorf("classifier_window must be at least 5, got %d", *c.ClassifierWindow)
	}
	if c.MaxConsecutiveFailures != nil && *c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be at least 1, got %d", *c.MaxConsecutiveFailures)
	}
	if c.MetricsFlushInterval != nil && *c.MetricsFlushInterval != "" {
		if _, err := time.ParseDuration(*c.MetricsFlushInterval); err != nil {
			return fmt.Errorf("invalid metrics_flush_interval '%s': %w", *c.MetricsFlushInterval, err)
		}
	}
	return nil
}

// GetStaticMagnitude returns the static_magnitude value or the default.
func (c *TuningConfig) GetStaticMagnitude() float64 {
	if c.StaticMagnitude == nil {
		return 6.0
	}
	return *c.StaticMagnitude
}

// GetSlowMagnitude returns the slow_magnitude value or the default.
func (c *TuningConfig) GetSlowMagnitude() float64 {
	if c.SlowMagnitude == nil {
		return 15.0
	}
	return *c.SlowMagnitude
}

// GetFastMagnitude returns the fast_magnitude value or the default.
func (c *TuningConfig) GetFastMagnitude() float64 {
	if c.FastMagnitude == nil {
		return 40.0
	}
	return *c.FastMagnitude
}

// GetMagnitudeVariance returns the magnitude_variance value or the default.
func (c *TuningConfig) GetMagnitudeVariance() float64 {
	if c.MagnitudeVariance == nil {
		return 3.0
	}
	return *c.MagnitudeVariance
}

// GetHighFrequencyRatio returns the high_frequency_ratio value or the default.
func (c *TuningConfig) GetHighFrequencyRatio() float64 {
	if c.HighFrequencyRatio == nil {
		return 0.70
	}
	return *c.HighFrequencyRatio
}

// GetConsistencyScore returns the consistency_score value or the default.
func (c *TuningConfig) GetConsistencyScore() float64 {
	if c.ConsistencyScore == nil {
		return 0.96
	}
	return *c.ConsistencyScore
}

// GetClassifierWindow returns the classifier_window value or the default.
func (c *TuningConfig) GetClassifierWindow() int {
	if c.ClassifierWindow == nil {
		return 30
	}
	return *c.ClassifierWindow
}

// GetDebounceFrames returns the debounce_frames value or the default.
func (c *TuningConfig) GetDebounceFrames() int {
	if c.DebounceFrames == nil {
		return 10
	}
	return *c.DebounceFrames
}

// GetRansacIterations returns the ransac_iterations value or the default.
func (c *TuningConfig) GetRansacIterations() int {
	if c.RansacIterations == nil {
		return 64
	}
	return *c.RansacIterations
}

// GetInlierThreshold returns the inlier_threshold value or the default.
func (c *TuningConfig) GetInlierThreshold() float64 {
	if c.InlierThreshold == nil {
		return 2.0
	}
	return *c.InlierThreshold
}

// GetMinInlierFraction returns the min_inlier_fraction value or the default.
func (c *TuningConfig) GetMinInlierFraction() float64 {
	if c.MinInlierFraction == nil {
		return 0.5
	}
	return *c.MinInlierFraction
}

// GetMaxTranslation returns the max_translation value or the default.
func (c *TuningConfig) GetMaxTranslation() float64 {
	if c.MaxTranslation == nil {
		return 100.0
	}
	return *c.MaxTranslation
}

// GetFlowWindowRadius returns the flow_window_radius value or the default.
func (c *TuningConfig) GetFlowWindowRadius() int {
	if c.FlowWindowRadius == nil {
		return 10
	}
	return *c.FlowWindowRadius
}

// GetFlowPyramidLevels returns the flow_pyramid_levels value or the default.
func (c *TuningConfig) GetFlowPyramidLevels() int {
	if c.FlowPyramidLevels == nil {
		return 3
	}
	return *c.FlowPyramidLevels
}

// GetFlowMaxIterations returns the flow_max_iterations value or the default.
func (c *TuningConfig) GetFlowMaxIterations() int {
	if c.FlowMaxIterations == nil {
		return 30
	}
	return *c.FlowMaxIterations
}

// GetFlowEpsilon returns the flow_epsilon value or the default.
func (c *TuningConfig) GetFlowEpsilon() float64 {
	if c.FlowEpsilon == nil {
		return 0.01
	}
	return *c.FlowEpsilon
}

// GetMaxConsecutiveFailures returns the max_consecutive_failures value or the default.
func (c *TuningConfig) GetMaxConsecutiveFailures() int {
	if c.MaxConsecutiveFailures == nil {
		return 10
	}
	return *c.MaxConsecutiveFailures
}

// GetMetricsFlushInterval parses and returns the MetricsFlushInterval as a time.Duration.
func (c *TuningConfig) GetMetricsFlushInterval() time.Duration {
	if c.MetricsFlushInterval == nil || *c.MetricsFlushInterval == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.MetricsFlushInterval)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}
