package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/portfolio-discovery/internal/discovery"
	"github.com/sells-group/portfolio-discovery/internal/registry"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <sponsor>",
	Short: "Run discovery for one sponsor and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mode, _ := cmd.Flags().GetString("mode")
		url, _ := cmd.Flags().GetString("url")
		user, _ := cmd.Flags().GetString("user")

		res, runErr := env.Service.RunSync(ctx, discovery.StartRequest{
			SponsorName:  args[0],
			PortfolioURL: url,
			Mode:         mode,
			UserID:       user,
		})
		if res.RunID != "" {
			printRunResult(ctx, cmd.OutOrStdout(), env.Registry, res)
		}
		return runErr
	},
}

// printRunResult writes the run's final state as indented JSON.
func printRunResult(ctx context.Context, w io.Writer, reg *registry.Registry, res discovery.StartResult) {
	if res.Existing {
		fmt.Fprintf(w, "Run %s is already in progress for this sponsor.\n", res.RunID)
		return
	}
	run, err := reg.GetRun(ctx, res.RunID)
	if err != nil {
		fmt.Fprintf(w, "Run %s finished; state unavailable: %v\n", res.RunID, err)
		return
	}
	b, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(w, string(b))
}

func init() {
	discoverCmd.Flags().String("mode", "append", "write mode: append, update or replace")
	discoverCmd.Flags().String("url", "", "known portfolio page URL to crawl first")
	discoverCmd.Flags().String("user", "", "user id to notify on completion")
	rootCmd.AddCommand(discoverCmd)
}
