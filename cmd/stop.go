package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/nwbbatch/internal/runlock"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running batch to stop dispatching sessions",
	Long: `Interrupt the batch run holding the lock in the state directory.
Sessions already being converted finish; the rest are reported as abandoned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopRun()
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func stopRun() error {
	lock := runlock.New(viper.GetString("state_dir"))
	if dryRun {
		if pid, running := lock.Holder(); running {
			ui.DryRunMsg("Would interrupt batch run (pid %d)", pid)
			return nil
		}
	}
	pid, err := lock.Stop()
	if errors.Is(err, runlock.ErrNotHeld) {
		ui.Info("No batch run is in progress")
		return nil
	}
	if err != nil {
		return err
	}
	ui.Success("Sent stop request to batch run (pid %d)", pid)
	return nil
}
