package portfolio

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

// ErrNoProvenance is returned when a sponsor would have to be created for a
// run whose finder produced no source URLs.
var ErrNoProvenance = eris.New("portfolio: refusing to create sponsor without a discovered source")

// WriteRequest is one reconciliation of discovered candidates.
type WriteRequest struct {
	SponsorName string
	SponsorID   *int64
	Mode        model.WriteMode
	Candidates  []model.Candidate
	// SourceCount is the number of URLs the finder produced.
	SourceCount int
}

// WriteResult reports what a Write changed.
type WriteResult struct {
	SponsorID int64
	Added     int
	Updated   int
	Deleted   int
}

// Writer reconciles candidates into a Store using the request's mode.
type Writer struct {
	store Store
}

// NewWriter creates a Writer.
func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// Write resolves the sponsor and applies the append, update or replace
// strategy. Replace only runs when asked for by name.
func (w *Writer) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	log := zap.L().With(zap.String("sponsor", req.SponsorName), zap.String("mode", string(req.Mode)))

	sponsor, err := w.resolveSponsor(ctx, req)
	if err != nil {
		return WriteResult{}, err
	}
	res := WriteResult{SponsorID: sponsor.ID}

	rows := make([]model.PortfolioCompany, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		if strings.TrimSpace(c.Asset) == "" {
			continue
		}
		rows = append(rows, model.CompanyFromCandidate(sponsor.ID, c))
	}

	switch req.Mode {
	case model.WriteModeAppend, "":
		res.Added, err = w.store.InsertCompanies(ctx, rows)
		if err != nil {
			return res, eris.Wrap(err, "portfolio: append")
		}

	case model.WriteModeUpdate:
		var fresh []model.PortfolioCompany
		for _, row := range collapseByAsset(rows) {
			existing, err := w.store.FindCompanyByAsset(ctx, sponsor.ID, row.Asset, row.Webpage)
			if err != nil {
				return res, eris.Wrap(err, "portfolio: update")
			}
			if existing == nil {
				fresh = append(fresh, row)
				continue
			}
			cand := model.Candidate{DateInvested: row.DateInvested, Sector: row.Sector, Webpage: row.Webpage}
			if err := w.store.UpdateDiscoverable(ctx, existing.ID, cand); err != nil {
				return res, eris.Wrap(err, "portfolio: update")
			}
			res.Updated++
		}
		res.Added, err = w.store.InsertCompanies(ctx, fresh)
		if err != nil {
			return res, eris.Wrap(err, "portfolio: update insert")
		}

	case model.WriteModeReplace:
		res.Deleted, res.Added, err = w.store.ReplaceCompanies(ctx, sponsor.ID, rows)
		if err != nil {
			return res, eris.Wrap(err, "portfolio: replace")
		}

	default:
		return res, eris.Errorf("portfolio: unknown write mode %q", req.Mode)
	}

	log.Info("portfolio: write complete",
		zap.Int64("sponsor_id", res.SponsorID),
		zap.Int("candidates", len(rows)),
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("deleted", res.Deleted),
	)
	return res, nil
}

// collapseByAsset keeps the first row per folded asset name. Update mode
// matches stored rows by name, so a second same-name row would overwrite
// the first one's webpage instead of adding a company.
func collapseByAsset(rows []model.PortfolioCompany) []model.PortfolioCompany {
	seen := make(map[string]bool, len(rows))
	out := make([]model.PortfolioCompany, 0, len(rows))
	for _, row := range rows {
		key := model.FoldName(row.Asset)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out
}

func (w *Writer) resolveSponsor(ctx context.Context, req WriteRequest) (*model.Sponsor, error) {
	if req.SponsorID != nil {
		sp, err := w.store.SponsorByID(ctx, *req.SponsorID)
		if err != nil {
			return nil, eris.Wrap(err, "portfolio: resolve sponsor")
		}
		if sp != nil {
			return sp, nil
		}
	}

	name := strings.TrimSpace(req.SponsorName)
	if name == "" {
		return nil, eris.New("portfolio: sponsor name is required")
	}
	sp, err := w.store.SponsorByName(ctx, name)
	if err != nil {
		return nil, eris.Wrap(err, "portfolio: resolve sponsor")
	}
	if sp != nil {
		return sp, nil
	}

	if req.SourceCount <= 0 {
		return nil, ErrNoProvenance
	}
	sp, err = w.store.CreateSponsor(ctx, name)
	if err != nil {
		return nil, eris.Wrap(err, "portfolio: create sponsor")
	}
	zap.L().Info("portfolio: created sponsor", zap.Int64("sponsor_id", sp.ID), zap.String("sponsor", sp.Name))
	return sp, nil
}
