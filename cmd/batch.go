package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/portfolio-discovery/internal/discovery"
)

// batchFile is the sponsors file read by "discover batch".
type batchFile struct {
	Defaults batchEntry   `yaml:"defaults"`
	Sponsors []batchEntry `yaml:"sponsors"`
}

type batchEntry struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
	User string `yaml:"user"`
}

// loadBatch parses a sponsors file. Entries inherit mode and user from
// defaults when they leave them blank.
func loadBatch(path string) ([]discovery.StartRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: read %s", path)
	}
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "batch: parse %s", path)
	}

	reqs := make([]discovery.StartRequest, 0, len(f.Sponsors))
	for i, e := range f.Sponsors {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, eris.Errorf("batch: sponsor %d has no name", i+1)
		}
		if e.Mode == "" {
			e.Mode = f.Defaults.Mode
		}
		if e.User == "" {
			e.User = f.Defaults.User
		}
		reqs = append(reqs, discovery.StartRequest{
			SponsorName:  name,
			PortfolioURL: e.URL,
			Mode:         e.Mode,
			UserID:       e.User,
		})
	}
	return reqs, nil
}

var discoverBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run discovery for every sponsor in a YAML file, one after another",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		reqs, err := loadBatch(path)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out := cmd.OutOrStdout()
		var failed int
		for _, req := range reqs {
			if ctx.Err() != nil {
				break
			}
			res, err := env.Service.RunSync(ctx, req)
			switch {
			case err != nil:
				failed++
				zap.L().Error("batch: sponsor failed", zap.String("sponsor", req.SponsorName), zap.Error(err))
				fmt.Fprintf(out, "FAIL  %-40s %s\n", req.SponsorName, res.RunID)
			case res.Existing:
				fmt.Fprintf(out, "SKIP  %-40s %s (already running)\n", req.SponsorName, res.RunID)
			default:
				fmt.Fprintf(out, "OK    %-40s %s\n", req.SponsorName, res.RunID)
			}
		}

		if failed > 0 {
			return eris.Errorf("batch: %d of %d sponsors failed", failed, len(reqs))
		}
		return nil
	},
}

func init() {
	discoverBatchCmd.Flags().String("file", "sponsors.yaml", "YAML file listing sponsors")
	discoverCmd.AddCommand(discoverBatchCmd)
}
