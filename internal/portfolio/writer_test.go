package portfolio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

func seedCompanies(t *testing.T, s *SQLiteStore, sponsor string, assets ...string) *model.Sponsor {
	t.Helper()
	ctx := context.Background()
	sp, err := s.CreateSponsor(ctx, sponsor)
	require.NoError(t, err)
	rows := make([]model.PortfolioCompany, len(assets))
	for i, a := range assets {
		rows[i] = model.PortfolioCompany{SponsorID: sp.ID, Asset: a}
	}
	n, err := s.InsertCompanies(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, len(assets), n)
	return sp
}

func candidates(assets ...string) []model.Candidate {
	out := make([]model.Candidate, len(assets))
	for i, a := range assets {
		out[i] = model.Candidate{Asset: a, Sector: "Industrials"}
	}
	return out
}

func TestWriter_AppendAddsOnlyNew(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	sp := seedCompanies(t, s, "Acme Capital", "Acme Widgets", "Beta Logistics", "Gamma Health")

	// M = 4 candidates, K = 2 overlap by name.
	res, err := NewWriter(s).Write(ctx, WriteRequest{
		SponsorName: "Acme Capital",
		Mode:        model.WriteModeAppend,
		Candidates:  candidates("acme widgets", "Gamma Health", "Delta Foods", "Epsilon Software"),
		SourceCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, sp.ID, res.SponsorID)
	assert.Equal(t, 2, res.Added)
	assert.Zero(t, res.Deleted)

	rows, err := s.ListCompanies(ctx, sp.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestWriter_AppendIsRepeatable(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	w := NewWriter(s)
	req := WriteRequest{SponsorName: "Acme Capital", Candidates: candidates("Acme Widgets", "Beta Logistics"), SourceCount: 1}

	first, err := w.Write(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Added)

	second, err := w.Write(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, second.Added)
}

func TestWriter_ReplaceDeletesEverythingFirst(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	sp := seedCompanies(t, s, "Acme Capital", "Acme Widgets", "Beta Logistics", "Gamma Health")

	before, err := s.ListCompanies(ctx, sp.ID)
	require.NoError(t, err)
	for _, c := range before {
		_, err := s.db.ExecContext(ctx, `INSERT INTO comments (company_id, body) VALUES (?, ?)`, c.ID, "follow up")
		require.NoError(t, err)
	}

	res, err := NewWriter(s).Write(ctx, WriteRequest{
		SponsorName: "Acme Capital",
		Mode:        model.WriteModeReplace,
		Candidates:  candidates("Acme Widgets", "Zeta Labs"),
		SourceCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, 2, res.Added)

	after, err := s.ListCompanies(ctx, sp.ID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	oldIDs := map[int64]bool{}
	for _, c := range before {
		oldIDs[c.ID] = true
	}
	for _, c := range after {
		assert.False(t, oldIDs[c.ID], "row %d survived replace", c.ID)
	}

	var comments int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT count(*) FROM comments`).Scan(&comments))
	assert.Zero(t, comments)
}

func TestWriter_UpdatePreservesCuratedFields(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	sp, err := s.CreateSponsor(ctx, "Acme Capital")
	require.NoError(t, err)
	_, err = s.InsertCompanies(ctx, []model.PortfolioCompany{{
		SponsorID: sp.ID, Asset: "Acme Widgets", Note: "met CEO at conference", NextSteps: "intro call", Financials: "$40m revenue",
	}})
	require.NoError(t, err)

	res, err := NewWriter(s).Write(ctx, WriteRequest{
		SponsorName: "Acme Capital",
		Mode:        model.WriteModeUpdate,
		Candidates: []model.Candidate{
			{Asset: "ACME WIDGETS", Sector: "Industrials", DateInvested: "2021", Note: "discovered note"},
			{Asset: "Beta Logistics", Sector: "Logistics"},
		},
		SourceCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Added)

	c, err := s.FindCompanyByAsset(ctx, sp.ID, "Acme Widgets", "")
	require.NoError(t, err)
	assert.Equal(t, "met CEO at conference", c.Note)
	assert.Equal(t, "intro call", c.NextSteps)
	assert.Equal(t, "$40m revenue", c.Financials)
	assert.Equal(t, "Industrials", c.Sector)
	assert.Equal(t, "2021", c.DateInvested)
}

func TestWriter_NoProvenanceForNewSponsor(t *testing.T) {
	s := newTestSQLite(t)
	_, err := NewWriter(s).Write(context.Background(), WriteRequest{
		SponsorName: "Unknown Partners",
		Candidates:  candidates("Acme Widgets"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoProvenance))

	sp, err := s.SponsorByName(context.Background(), "Unknown Partners")
	require.NoError(t, err)
	assert.Nil(t, sp)
}

func TestWriter_ExistingSponsorNeedsNoProvenance(t *testing.T) {
	s := newTestSQLite(t)
	seedCompanies(t, s, "Acme Capital")
	res, err := NewWriter(s).Write(context.Background(), WriteRequest{
		SponsorName: "acme capital",
		Candidates:  candidates("Acme Widgets"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
}

func TestWriter_ResolvesByID(t *testing.T) {
	s := newTestSQLite(t)
	sp := seedCompanies(t, s, "Acme Capital")
	res, err := NewWriter(s).Write(context.Background(), WriteRequest{
		SponsorName: "Acme Capital LLC",
		SponsorID:   &sp.ID,
		Candidates:  candidates("Acme Widgets"),
	})
	require.NoError(t, err)
	assert.Equal(t, sp.ID, res.SponsorID)
}

func TestWriter_SkipsBlankAssetsAndRejectsUnknownMode(t *testing.T) {
	s := newTestSQLite(t)
	w := NewWriter(s)
	res, err := w.Write(context.Background(), WriteRequest{
		SponsorName: "Acme Capital",
		Candidates:  []model.Candidate{{Asset: "  "}, {Asset: "Acme Widgets"}},
		SourceCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)

	_, err = w.Write(context.Background(), WriteRequest{SponsorName: "Acme Capital", Mode: "merge", SourceCount: 1})
	require.Error(t, err)
}

func TestWriter_AppendMatchesWebpageSpellings(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	sp, err := s.CreateSponsor(ctx, "Acme Capital")
	require.NoError(t, err)
	_, err = s.InsertCompanies(ctx, []model.PortfolioCompany{{SponsorID: sp.ID, Asset: "Acme Widgets", Webpage: "https://acmewidgets.com"}})
	require.NoError(t, err)

	res, err := NewWriter(s).Write(ctx, WriteRequest{
		SponsorName: "Acme Capital",
		Mode:        model.WriteModeAppend,
		Candidates: []model.Candidate{
			{Asset: "Acme Widgets", Webpage: "https://www.acmewidgets.com/"},
			{Asset: "ACME WIDGETS", Webpage: "http://AcmeWidgets.com"},
		},
		SourceCount: 1,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Added)

	rows, err := s.ListCompanies(ctx, sp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://acmewidgets.com", rows[0].Webpage)
}

func TestWriter_AppendFoldsNonASCIINames(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	sp := seedCompanies(t, s, "Nord Partners", "Straße Logistik")

	res, err := NewWriter(s).Write(ctx, WriteRequest{
		SponsorName: "Nord Partners",
		Mode:        model.WriteModeAppend,
		Candidates:  candidates("STRASSE LOGISTIK"),
		SourceCount: 1,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Added)

	c, err := s.FindCompanyByAsset(ctx, sp.ID, "strasse logistik", "")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Straße Logistik", c.Asset)
}

func TestWriter_UpdateCollapsesSameNameCandidates(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	sp, err := s.CreateSponsor(ctx, "Acme Capital")
	require.NoError(t, err)
	_, err = s.InsertCompanies(ctx, []model.PortfolioCompany{{SponsorID: sp.ID, Asset: "Acme Widgets", Webpage: "https://acmewidgets.com"}})
	require.NoError(t, err)

	res, err := NewWriter(s).Write(ctx, WriteRequest{
		SponsorName: "Acme Capital",
		Mode:        model.WriteModeUpdate,
		Candidates: []model.Candidate{
			{Asset: "Acme Widgets", Webpage: "https://www.acmewidgets.com", Sector: "Industrials"},
			{Asset: "acme widgets", Webpage: "https://acme-widgets.io", Sector: "Software"},
		},
		SourceCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, res.Added)

	rows, err := s.ListCompanies(ctx, sp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://acmewidgets.com", rows[0].Webpage)
	assert.Equal(t, "Industrials", rows[0].Sector)
}

func TestWriter_UpdatePrefersRowWithSameWebpage(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	sp, err := s.CreateSponsor(ctx, "Acme Capital")
	require.NoError(t, err)
	_, err = s.InsertCompanies(ctx, []model.PortfolioCompany{
		{SponsorID: sp.ID, Asset: "Acme Widgets", Webpage: "https://acmewidgets.com"},
		{SponsorID: sp.ID, Asset: "Acme Widgets", Webpage: "https://acmewidgets.co.uk"},
	})
	require.NoError(t, err)

	res, err := NewWriter(s).Write(ctx, WriteRequest{
		SponsorName: "Acme Capital",
		Mode:        model.WriteModeUpdate,
		Candidates:  []model.Candidate{{Asset: "Acme Widgets", Webpage: "www.acmewidgets.co.uk/", Sector: "Industrials"}},
		SourceCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	rows, err := s.ListCompanies(ctx, sp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	sectors := map[string]string{}
	for _, r := range rows {
		sectors[r.Webpage] = r.Sector
	}
	assert.Equal(t, "Industrials", sectors["https://acmewidgets.co.uk"])
	assert.Empty(t, sectors["https://acmewidgets.com"])
}
