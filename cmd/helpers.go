// File: cmd/helpers.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fusion-pilot/internal/calibration"
	"github.com/xkilldash9x/fusion-pilot/internal/config"
	"github.com/xkilldash9x/fusion-pilot/internal/observability"
	"github.com/xkilldash9x/fusion-pilot/internal/runner"
	"github.com/xkilldash9x/fusion-pilot/internal/toolbus"
	"github.com/xkilldash9x/fusion-pilot/internal/vision"
)

// buildRunner assembles a fully wired session runner from the resolved
// configuration. The returned cleanup closes the tool channel.
func buildRunner(logger *zap.Logger) (*runner.Runner, func(), error) {
	cfg, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	cal, err := calibration.Load(cfg.Calibration.Path)
	if err != nil {
		return nil, nil, err
	}
	if len(cal.Names()) == 0 {
		logger.Warn("Calibration file missing or empty; region clicks will fail",
			zap.String("path", cfg.Calibration.Path))
	}

	tools, err := connectTools(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := tools.Close(); err != nil {
			logger.Warn("Tool channel close failed", zap.Error(err))
		}
	}

	store, err := runner.NewArtifactStore(cfg.Run.LogRoot, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	visionClient := vision.NewClient(cfg.Vision, logger)
	r := runner.New(cfg, tools, visionClient, cal, store, os.Stdout, logger)
	return r, cleanup, nil
}

func connectTools(cfg *config.Config, logger *zap.Logger) (*toolbus.Client, error) {
	if cfg.Tools.Connect != "" {
		return toolbus.Dial(cfg.Tools.Connect, cfg.Tools.CallTimeout, logger)
	}
	if len(cfg.Tools.ServerCmd) > 0 {
		return toolbus.Spawn(cfg.Tools.ServerCmd, cfg.Tools.CallTimeout, logger)
	}
	return nil, fmt.Errorf("no tool server configured: set tools.connect or tools.server_cmd")
}

func getLogger() *zap.Logger {
	return observability.GetLogger()
}
