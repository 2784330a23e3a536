// File: cmd/run.go
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the full observe-decide-act loop against a live Fusion session",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so CLI values override the config
			// file and environment with the right precedence.
			for flag, key := range map[string]string{
				"max-steps":       "run.max_steps",
				"force-measure":   "run.force_measure",
				"start-measure":   "run.start_measure",
				"vision-delay":    "vision.delay",
				"connect":         "tools.connect",
				"server-cmd":      "tools.server_cmd",
			} {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := getLogger()
			r, cleanup, err := buildRunner(logger)
			if err != nil {
				return err
			}
			defer cleanup()
			return r.Run(cmd.Context())
		},
	}

	runCmd.Flags().Int("max-steps", 5, "maximum loop iterations before stopping")
	runCmd.Flags().Bool("force-measure", false, "capture the measure_panel region every iteration")
	runCmd.Flags().Bool("start-measure", false, "skip LOCATE and start in the baseline measurement phase")
	runCmd.Flags().Duration("vision-delay", 0, "minimum delay between vision requests")
	runCmd.Flags().String("connect", "", "connect to a running tool server at host:port")
	runCmd.Flags().StringSlice("server-cmd", nil, "command to spawn the tool server over stdio")
	return runCmd
}
