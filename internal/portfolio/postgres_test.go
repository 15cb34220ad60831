package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresStore(mock, nil), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sponsors`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SponsorByName_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT id, name, created_at FROM sponsors WHERE lower\(name\) = lower\(\$1\)`).
		WithArgs("Acme Capital").
		WillReturnError(pgx.ErrNoRows)

	sp, err := s.SponsorByName(context.Background(), "Acme Capital")
	require.NoError(t, err)
	assert.Nil(t, sp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSponsor(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO sponsors \(name\) VALUES \(\$1\)`).
		WithArgs("Acme Capital").
		WillReturnRows(mock.NewRows([]string{"id", "name", "created_at"}).AddRow(int64(4), "Acme Capital", now))

	sp, err := s.CreateSponsor(context.Background(), "Acme Capital")
	require.NoError(t, err)
	assert.Equal(t, int64(4), sp.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCompanies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_insert_portfolio_companies"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_portfolio_companies"}, companyColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "portfolio_companies" .* ON CONFLICT DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.InsertCompanies(context.Background(), []model.PortfolioCompany{
		{SponsorID: 1, Asset: "Acme Widgets"},
		{SponsorID: 1, Asset: "Beta Logistics"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCompanyByAsset(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	cols := []string{"id", "sponsor_id", "asset", "date_invested", "sector", "webpage", "note", "next_steps", "financials", "location", "description", "status", "created_at", "updated_at"}
	mock.ExpectQuery(`FROM portfolio_companies WHERE sponsor_id = \$1 AND asset_key = \$2 ORDER BY \(webpage = \$3\) DESC`).
		WithArgs(int64(1), "acme widgets", "https://acmewidgets.com").
		WillReturnRows(mock.NewRows(cols).AddRow(int64(9), int64(1), "Acme Widgets", "2021", "Industrials", "", "call CFO", "", "", "", "", "", now, now))

	c, err := s.FindCompanyByAsset(context.Background(), 1, "ACME Widgets", "www.acmewidgets.com/")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(9), c.ID)
	assert.Equal(t, "call CFO", c.Note)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDiscoverable(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE portfolio_companies SET`).
		WithArgs("2021", "Industrials", "https://acme.com", pgxmock.AnyArg(), int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateDiscoverable(context.Background(), 9, model.Candidate{
		DateInvested: "2021", Sector: "Industrials", Webpage: "https://acme.com", Note: "never written",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceCompanies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM comments WHERE company_id IN`).WithArgs(int64(1)).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(`DELETE FROM portfolio_companies WHERE sponsor_id = \$1`).WithArgs(int64(1)).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_insert_portfolio_companies"}, companyColumns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "portfolio_companies"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	deleted, inserted, err := s.ReplaceCompanies(context.Background(), 1, []model.PortfolioCompany{{SponsorID: 1, Asset: "Zeta Labs"}})
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceRollsBackOnDeleteFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM comments`).WithArgs(int64(1)).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, _, err := s.ReplaceCompanies(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete comments")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRunSummary(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	mock.ExpectExec(`(?s)INSERT INTO run_summaries .* ON CONFLICT \(run_id\) DO UPDATE`).
		WithArgs("run-1", pgxmock.AnyArg(), "Acme Capital", "u1", "append", now, now, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveRunSummary(context.Background(), model.RunSummary{
		RunID: "run-1", SponsorName: "Acme Capital", UserID: "u1", Mode: model.WriteModeAppend, StartedAt: now, EndedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
