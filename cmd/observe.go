// File: cmd/observe.go
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newObserveCmd creates the one-shot `observe` command: bootstrap, print the
// observation, exit. Useful for checking calibration and the vision channel
// without letting the planner act.
func newObserveCmd() *cobra.Command {
	observeCmd := &cobra.Command{
		Use:   "observe",
		Short: "Performs a single bootstrap observation and prints it as JSON",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for flag, key := range map[string]string{
				"connect":    "tools.connect",
				"server-cmd": "tools.server_cmd",
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
			return r.Observe(cmd.Context())
		},
	}

	observeCmd.Flags().String("connect", "", "connect to a running tool server at host:port")
	observeCmd.Flags().StringSlice("server-cmd", nil, "command to spawn the tool server over stdio")
	return observeCmd
}
