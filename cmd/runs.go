package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/internal/registry"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and cancel discovery runs",
	Long:  "Reads run state from the shared run store. Runs are visible here only while retained and only when the store is Redis.",
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the current state of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		re := initRunEnv(ctx, cfg)
		defer re.Close()

		run, err := re.Registry.GetRun(ctx, args[0])
		if errors.Is(err, registry.ErrRunNotFound) {
			return eris.Errorf("run %s not found", args[0])
		}
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			b, err := json.MarshalIndent(run, "", "  ")
			if err != nil {
				return eris.Wrap(err, "runs show: marshal")
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		}
		formatRun(cmd.OutOrStdout(), run)
		return nil
	},
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Request cancellation of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		re := initRunEnv(ctx, cfg)
		defer re.Close()

		if err := re.Registry.CancelRun(ctx, args[0]); err != nil {
			if errors.Is(err, registry.ErrRunNotFound) {
				return eris.Errorf("run %s not found", args[0])
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s cancelled.\n", args[0])
		return nil
	},
}

// formatRun writes a human-readable view of a run.
func formatRun(w io.Writer, run *model.RunState) {
	fmt.Fprintf(w, "Run:      %s\n", run.RunID)
	fmt.Fprintf(w, "Sponsor:  %s\n", run.SponsorName)
	fmt.Fprintf(w, "Mode:     %s\n", run.Mode)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.Error)
	}
	fmt.Fprintf(w, "Created:  %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	if run.EndedAt != nil {
		fmt.Fprintf(w, "Ended:    %s (%s)\n", run.EndedAt.Format("2006-01-02 15:04:05"), run.EndedAt.Sub(run.CreatedAt).Round(time.Second))
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tCOUNT\tNOTE")
	for _, id := range model.AllSteps() {
		st := run.Step(id)
		count := "-"
		if st.Count != nil {
			count = fmt.Sprint(*st.Count)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, st.Status, count, st.Error)
	}
	_ = tw.Flush()
}

func init() {
	runsShowCmd.Flags().Bool("json", false, "print the raw run state as JSON")
	runsCmd.AddCommand(runsShowCmd, runsCancelCmd)
	rootCmd.AddCommand(runsCmd)
}
