// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "Autodesk Fusion", cfg.App.Name)
	assert.Equal(t, "gpt-4o-mini", cfg.Vision.Model)
	assert.Equal(t, 3, cfg.Vision.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Vision.RequestTimeout)
	assert.True(t, cfg.Vision.AllowStub)
	assert.Equal(t, 0.65, cfg.Planner.ConfidenceGate)
	assert.Equal(t, 8, cfg.Planner.StuckThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Planner.Wait)
	assert.Equal(t, 0.7, cfg.Measurement.MinConfidence)
	assert.Equal(t, 10.0, cfg.Measurement.MinValueMM)
	assert.Equal(t, 50, cfg.Measurement.MinClickDistance)
	assert.Equal(t, 80, cfg.Measurement.MinRowSpan)
	assert.Equal(t, 5, cfg.Run.MaxSteps)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	base := NewDefaultConfig()

	err := base.Validate()
	assert.NoError(t, err, "a default config should validate")

	t.Run("vision attempts", func(t *testing.T) {
		cfg := *base
		cfg.Vision.MaxAttempts = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vision.max_attempts")
	})

	t.Run("confidence gate range", func(t *testing.T) {
		cfg := *base
		cfg.Planner.ConfidenceGate = 1.5
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "planner.confidence_gate")
	})

	t.Run("stuck threshold", func(t *testing.T) {
		cfg := *base
		cfg.Planner.StuckThreshold = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "planner.stuck_threshold")
	})

	t.Run("measurement confidence range", func(t *testing.T) {
		cfg := *base
		cfg.Measurement.MinConfidence = -0.1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "measurement.min_confidence")
	})

	t.Run("click distance sign", func(t *testing.T) {
		cfg := *base
		cfg.Measurement.MinClickDistance = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "measurement.min_click_distance")
	})

	t.Run("max steps", func(t *testing.T) {
		cfg := *base
		cfg.Run.MaxSteps = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run.max_steps")
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("planner.confidence_gate", 0.8)
	v.Set("vision.model", "gpt-4o")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Planner.ConfidenceGate)
	assert.Equal(t, "gpt-4o", cfg.Vision.Model)
	// Untouched values keep their defaults.
	assert.Equal(t, 8, cfg.Planner.StuckThreshold)
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("run.max_steps", 0)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestBindEnvLegacyNames(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	t.Setenv("FUSION_VISION_API_KEY", "legacy-key")
	t.Setenv("FUSION_MCP_CALIBRATION", "/tmp/cal.json")
	BindEnv(v)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", cfg.Vision.APIKey)
	assert.Equal(t, "/tmp/cal.json", cfg.Calibration.Path)
}

func TestBindEnvPrefixedNames(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	t.Setenv("FUSION_PILOT_VISION_MODEL", "gpt-4o")
	BindEnv(v)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Vision.Model)
}
