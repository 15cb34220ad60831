package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/portfolio-discovery/internal/portfolio"
)

var exportCmd = &cobra.Command{
	Use:   "export <sponsor>",
	Short: "Export a sponsor's portfolio to an Excel workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openPortfolio(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sponsor, err := st.SponsorByName(ctx, args[0])
		if err != nil {
			return err
		}
		if sponsor == nil {
			return eris.Errorf("sponsor %q not found", args[0])
		}
		companies, err := st.ListCompanies(ctx, sponsor.ID)
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = fmt.Sprintf("portfolio-%d.xlsx", sponsor.ID)
		}
		if err := portfolio.WriteXLSX(out, *sponsor, companies); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d companies for %s to %s\n", len(companies), sponsor.Name, out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output .xlsx path (default portfolio-<sponsor id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
