package portfolio

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

// SQLiteStore implements Store on modernc.org/sqlite for local runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and configures WAL mode.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sponsors (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL COLLATE NOCASE UNIQUE,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_companies (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	sponsor_id    INTEGER NOT NULL REFERENCES sponsors(id),
	asset         TEXT NOT NULL,
	asset_key     TEXT NOT NULL,
	date_invested TEXT NOT NULL DEFAULT '',
	sector        TEXT NOT NULL DEFAULT '',
	webpage       TEXT NOT NULL DEFAULT '',
	note          TEXT NOT NULL DEFAULT '',
	next_steps    TEXT NOT NULL DEFAULT '',
	financials    TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_portfolio_companies_key
	ON portfolio_companies (sponsor_id, asset_key, webpage);

CREATE TABLE IF NOT EXISTS comments (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id INTEGER NOT NULL REFERENCES portfolio_companies(id),
	body       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_comments_company_id ON comments (company_id);

CREATE TABLE IF NOT EXISTS run_summaries (
	run_id       TEXT PRIMARY KEY,
	sponsor_id   INTEGER,
	sponsor_name TEXT NOT NULL,
	user_id      TEXT NOT NULL DEFAULT '',
	mode         TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	ended_at     DATETIME NOT NULL,
	totals       TEXT NOT NULL,
	steps        TEXT NOT NULL
);
`

const sqliteCompanySelect = `SELECT id, sponsor_id, asset, date_invested, sector, webpage, note, next_steps, financials, location, description, status, created_at, updated_at FROM portfolio_companies`

const sqliteCompanyInsert = `INSERT OR IGNORE INTO portfolio_companies
	(sponsor_id, asset, asset_key, date_invested, sector, webpage, note, next_steps, financials, location, description, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SponsorByID(ctx context.Context, id int64) (*model.Sponsor, error) {
	return s.sponsor(ctx, `SELECT id, name, created_at FROM sponsors WHERE id = ?`, id)
}

func (s *SQLiteStore) SponsorByName(ctx context.Context, name string) (*model.Sponsor, error) {
	return s.sponsor(ctx, `SELECT id, name, created_at FROM sponsors WHERE name = ? COLLATE NOCASE`, name)
}

func (s *SQLiteStore) sponsor(ctx context.Context, query string, arg any) (*model.Sponsor, error) {
	var sp model.Sponsor
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&sp.ID, &sp.Name, &sp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get sponsor")
	}
	return &sp, nil
}

func (s *SQLiteStore) CreateSponsor(ctx context.Context, name string) (*model.Sponsor, error) {
	var sp model.Sponsor
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sponsors (name, created_at) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET name = sponsors.name
		 RETURNING id, name, created_at`,
		name, time.Now().UTC(),
	).Scan(&sp.ID, &sp.Name, &sp.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create sponsor %s", name)
	}
	return &sp, nil
}

func (s *SQLiteStore) InsertCompanies(ctx context.Context, companies []model.PortfolioCompany) (int, error) {
	if len(companies) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	n, err := insertCompaniesTx(ctx, tx, companies)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return n, nil
}

func insertCompaniesTx(ctx context.Context, tx *sql.Tx, companies []model.PortfolioCompany) (int, error) {
	stmt, err := tx.PrepareContext(ctx, sqliteCompanyInsert)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for _, row := range companyRows(companies, now) {
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert company")
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

func (s *SQLiteStore) FindCompanyByAsset(ctx context.Context, sponsorID int64, asset, webpage string) (*model.PortfolioCompany, error) {
	row := s.db.QueryRowContext(ctx,
		sqliteCompanySelect+` WHERE sponsor_id = ? AND asset_key = ? ORDER BY (webpage = ?) DESC, id LIMIT 1`,
		sponsorID, model.FoldName(asset), model.CanonicalWebpage(webpage))
	c, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find company %s", asset)
	}
	return c, nil
}

func (s *SQLiteStore) UpdateDiscoverable(ctx context.Context, companyID int64, c model.Candidate) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE portfolio_companies SET
			date_invested = COALESCE(NULLIF(?, ''), date_invested),
			sector        = COALESCE(NULLIF(?, ''), sector),
			webpage       = COALESCE(NULLIF(?, ''), webpage),
			updated_at    = ?
		 WHERE id = ?`,
		c.DateInvested, c.Sector, model.CanonicalWebpage(c.Webpage), time.Now().UTC(), companyID,
	)
	return eris.Wrapf(err, "sqlite: update company %d", companyID)
}

func (s *SQLiteStore) ReplaceCompanies(ctx context.Context, sponsorID int64, companies []model.PortfolioCompany) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM comments WHERE company_id IN (SELECT id FROM portfolio_companies WHERE sponsor_id = ?)`,
		sponsorID,
	); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: delete comments")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM portfolio_companies WHERE sponsor_id = ?`, sponsorID)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: delete companies")
	}
	deleted, _ := res.RowsAffected()

	inserted, err := insertCompaniesTx(ctx, tx, companies)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: commit")
	}
	return int(deleted), inserted, nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, sponsorID int64) ([]model.PortfolioCompany, error) {
	rows, err := s.db.QueryContext(ctx, sqliteCompanySelect+` WHERE sponsor_id = ? ORDER BY asset_key, id`, sponsorID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PortfolioCompany
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate companies")
}

func (s *SQLiteStore) SaveRunSummary(ctx context.Context, sum model.RunSummary) error {
	totals, err := json.Marshal(sum.Totals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal totals")
	}
	steps, err := json.Marshal(sum.Steps)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal steps")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_summaries (run_id, sponsor_id, sponsor_name, user_id, mode, started_at, ended_at, totals, steps)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			sponsor_id = excluded.sponsor_id,
			ended_at   = excluded.ended_at,
			totals     = excluded.totals,
			steps      = excluded.steps`,
		sum.RunID, sum.SponsorID, sum.SponsorName, sum.UserID, string(sum.Mode),
		sum.StartedAt, sum.EndedAt, string(totals), string(steps),
	)
	return eris.Wrapf(err, "sqlite: save run summary %s", sum.RunID)
}
