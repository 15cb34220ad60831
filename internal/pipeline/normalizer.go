package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

// Normalizer trims candidate fields and drops duplicates.
type Normalizer struct{}

func NewNormalizer() *Normalizer { return &Normalizer{} }

func (n *Normalizer) Name() model.StepID { return model.StepNormalizer }

func (n *Normalizer) Run(_ context.Context, in State) (State, error) {
	out := Normalize(in.Candidates)
	zap.L().Info("normalizer: candidates normalized",
		zap.String("run_id", in.RunID),
		zap.Int("in", len(in.Candidates)),
		zap.Int("out", len(out)),
	)
	return in.WithCandidates(out), nil
}

// Normalize trims every field, rewrites webpages to canonical form, drops
// candidates without an asset name and removes duplicates by (folded asset,
// canonical webpage). The first
// occurrence wins and order is preserved. Normalize(Normalize(x)) equals
// Normalize(x).
func Normalize(in []model.Candidate) []model.Candidate {
	seen := make(map[string]bool, len(in))
	out := make([]model.Candidate, 0, len(in))
	for _, c := range in {
		c = trimCandidate(c)
		if c.Asset == "" {
			continue
		}
		key := model.FoldName(c.Asset) + "\x00" + c.Webpage
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func trimCandidate(c model.Candidate) model.Candidate {
	for _, f := range []*string{
		&c.Asset, &c.DateInvested, &c.Sector, &c.Webpage, &c.Note, &c.NextSteps,
		&c.Financials, &c.Location, &c.Description, &c.Status, &c.SponsorName,
	} {
		*f = strings.TrimSpace(*f)
	}
	c.Webpage = model.CanonicalWebpage(c.Webpage)
	return c
}
