package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storeflow/storeflow/internal/app"
	"github.com/storeflow/storeflow/pkg/state"
	"github.com/storeflow/storeflow/pkg/tui"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect the recorded run state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the last run and per-table watermarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		backend, err := app.OpenState(cmd.Context(), e.cfg)
		if err != nil {
			return err
		}
		tracker := state.NewTracker(backend, e.logger)
		st := tracker.GetLastRun(cmd.Context())
		tui.NewPrinter(cmd.OutOrStdout(), false).Print(tui.RenderState(backend.Name(), st))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		doc, err := e.manager.Dump()
		if err != nil {
			return err
		}
		for _, p := range e.manager.GetPaths() {
			fmt.Fprintf(cmd.OutOrStdout(), "# loaded %s\n", p)
		}
		fmt.Fprint(cmd.OutOrStdout(), doc)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "storeflow %s (%s)\n", version, commit)
	},
}

func init() {
	stateCmd.AddCommand(stateShowCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
