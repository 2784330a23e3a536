// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	App         AppConfig         `mapstructure:"app" yaml:"app"`
	Vision      VisionConfig      `mapstructure:"vision" yaml:"vision"`
	Tools       ToolsConfig       `mapstructure:"tools" yaml:"tools"`
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
	Planner     PlannerConfig     `mapstructure:"planner" yaml:"planner"`
	Measurement MeasurementConfig `mapstructure:"measurement" yaml:"measurement"`
	Run         RunConfig         `mapstructure:"run" yaml:"run"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AppConfig identifies the target application and the editing goal.
type AppConfig struct {
	// Name must match ui_state.app in a bootstrap observation before the run
	// is allowed to proceed.
	Name string `mapstructure:"name" yaml:"name"`
	Goal string `mapstructure:"goal" yaml:"goal"`
}

// VisionConfig configures the remote multimodal inference endpoint.
type VisionConfig struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model          string        `mapstructure:"model" yaml:"model"`
	APIKey         string        `mapstructure:"api_key" yaml:"-"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// Delay paces requests: at most one vision call per Delay.
	Delay     time.Duration `mapstructure:"delay" yaml:"delay"`
	AllowStub bool          `mapstructure:"allow_stub" yaml:"allow_stub"`
}

// ToolsConfig configures the tool channel: either connect to a running
// server at Connect (host:port), or spawn ServerCmd attached via stdio.
type ToolsConfig struct {
	Connect     string        `mapstructure:"connect" yaml:"connect"`
	ServerCmd   []string      `mapstructure:"server_cmd" yaml:"server_cmd"`
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// CalibrationConfig locates the persisted region map.
type CalibrationConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PlannerConfig carries the planner's empirically chosen thresholds. The
// defaults come from the calibration setup this project was tuned on; they
// are configuration, not constants, because nothing suggests they generalize.
type PlannerConfig struct {
	ConfidenceGate float64       `mapstructure:"confidence_gate" yaml:"confidence_gate"`
	StuckThreshold int           `mapstructure:"stuck_threshold" yaml:"stuck_threshold"`
	Wait           time.Duration `mapstructure:"wait" yaml:"wait"`
	StepWait       time.Duration `mapstructure:"step_wait" yaml:"step_wait"`
	RecoverWait    time.Duration `mapstructure:"recover_wait" yaml:"recover_wait"`
}

// MeasurementConfig carries the baseline-measurement confirmation gates.
type MeasurementConfig struct {
	MinConfidence    float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	MinValueMM       float64 `mapstructure:"min_value_mm" yaml:"min_value_mm"`
	MinClickDistance int     `mapstructure:"min_click_distance" yaml:"min_click_distance"`
	MinRowSpan       int     `mapstructure:"min_row_span" yaml:"min_row_span"`
}

// RunConfig holds per-run settings, populated from CLI flags.
type RunConfig struct {
	LogRoot      string `mapstructure:"log_root" yaml:"log_root"`
	MaxSteps     int    `mapstructure:"max_steps" yaml:"max_steps"`
	ForceMeasure bool   `mapstructure:"force_measure" yaml:"force_measure"`
	StartMeasure bool   `mapstructure:"start_measure" yaml:"start_measure"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "fusion-pilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- App --
	v.SetDefault("app.name", "Autodesk Fusion")
	v.SetDefault("app.goal", "Modify back plate to fit Raspberry Pi 3B")

	// -- Vision --
	v.SetDefault("vision.endpoint", "https://api.openai.com/v1")
	v.SetDefault("vision.model", "gpt-4o-mini")
	v.SetDefault("vision.max_attempts", 3)
	v.SetDefault("vision.request_timeout", "60s")
	v.SetDefault("vision.delay", "0s")
	v.SetDefault("vision.allow_stub", true)

	// -- Tools --
	v.SetDefault("tools.connect", "")
	v.SetDefault("tools.server_cmd", []string{})
	v.SetDefault("tools.call_timeout", "30s")

	// -- Calibration --
	v.SetDefault("calibration.path", "calibration.json")

	// -- Planner --
	v.SetDefault("planner.confidence_gate", 0.65)
	v.SetDefault("planner.stuck_threshold", 8)
	v.SetDefault("planner.wait", "250ms")
	v.SetDefault("planner.step_wait", "300ms")
	v.SetDefault("planner.recover_wait", "500ms")

	// -- Measurement --
	v.SetDefault("measurement.min_confidence", 0.7)
	v.SetDefault("measurement.min_value_mm", 10.0)
	v.SetDefault("measurement.min_click_distance", 50)
	v.SetDefault("measurement.min_row_span", 80)

	// -- Run --
	v.SetDefault("run.log_root", "logs")
	v.SetDefault("run.max_steps", 5)
	v.SetDefault("run.force_measure", false)
	v.SetDefault("run.start_measure", false)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// BindEnv wires environment variables, including the legacy FUSION_* names
// the add-in tooling already exports.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("FUSION_PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("vision.api_key", "FUSION_PILOT_VISION_API_KEY", "FUSION_VISION_API_KEY")
	v.BindEnv("vision.endpoint", "FUSION_PILOT_VISION_ENDPOINT", "FUSION_VISION_ENDPOINT")
	v.BindEnv("vision.model", "FUSION_PILOT_VISION_MODEL", "FUSION_VISION_MODEL")
	v.BindEnv("calibration.path", "FUSION_PILOT_CALIBRATION", "FUSION_MCP_CALIBRATION")
	v.BindEnv("run.log_root", "FUSION_PILOT_LOG_ROOT", "FUSION_MCP_LOG_ROOT")
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Resolve ~ in user-supplied paths.
	var err error
	if cfg.Calibration.Path, err = homedir.Expand(cfg.Calibration.Path); err != nil {
		return nil, fmt.Errorf("invalid calibration.path: %w", err)
	}
	if cfg.Run.LogRoot, err = homedir.Expand(cfg.Run.LogRoot); err != nil {
		return nil, fmt.Errorf("invalid run.log_root: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Vision.MaxAttempts <= 0 {
		return fmt.Errorf("vision.max_attempts must be a positive integer")
	}
	if c.Planner.ConfidenceGate < 0.0 || c.Planner.ConfidenceGate > 1.0 {
		return fmt.Errorf("planner.confidence_gate must be between 0.0 and 1.0")
	}
	if c.Planner.StuckThreshold <= 0 {
		return fmt.Errorf("planner.stuck_threshold must be a positive integer")
	}
	if c.Measurement.MinConfidence < 0.0 || c.Measurement.MinConfidence > 1.0 {
		return fmt.Errorf("measurement.min_confidence must be between 0.0 and 1.0")
	}
	if c.Measurement.MinClickDistance < 0 {
		return fmt.Errorf("measurement.min_click_distance must not be negative")
	}
	if c.Run.MaxSteps <= 0 {
		return fmt.Errorf("run.max_steps must be a positive integer")
	}
	return nil
}
