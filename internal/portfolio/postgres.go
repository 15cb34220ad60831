package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-discovery/internal/db"
	"github.com/sells-group/portfolio-discovery/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgresStore wraps an open pool. closeFn may be nil.
func NewPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sponsors (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sponsors_name ON sponsors (lower(name));

CREATE TABLE IF NOT EXISTS portfolio_companies (
	id            BIGSERIAL PRIMARY KEY,
	sponsor_id    BIGINT NOT NULL REFERENCES sponsors(id),
	asset         TEXT NOT NULL,
	asset_key     TEXT NOT NULL DEFAULT '',
	date_invested TEXT NOT NULL DEFAULT '',
	sector        TEXT NOT NULL DEFAULT '',
	webpage       TEXT NOT NULL DEFAULT '',
	note          TEXT NOT NULL DEFAULT '',
	next_steps    TEXT NOT NULL DEFAULT '',
	financials    TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
ALTER TABLE portfolio_companies ADD COLUMN IF NOT EXISTS asset_key TEXT NOT NULL DEFAULT '';
UPDATE portfolio_companies SET asset_key = lower(asset) WHERE asset_key = '';
DROP INDEX IF EXISTS idx_portfolio_companies_identity;
CREATE UNIQUE INDEX IF NOT EXISTS idx_portfolio_companies_key
	ON portfolio_companies (sponsor_id, asset_key, webpage);

CREATE TABLE IF NOT EXISTS comments (
	id         BIGSERIAL PRIMARY KEY,
	company_id BIGINT NOT NULL REFERENCES portfolio_companies(id),
	body       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_comments_company_id ON comments (company_id);

CREATE TABLE IF NOT EXISTS run_summaries (
	run_id       TEXT PRIMARY KEY,
	sponsor_id   BIGINT,
	sponsor_name TEXT NOT NULL,
	user_id      TEXT NOT NULL DEFAULT '',
	mode         TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ NOT NULL,
	totals       JSONB NOT NULL,
	steps        JSONB NOT NULL
);
`

var companyColumns = []string{
	"sponsor_id", "asset", "asset_key", "date_invested", "sector", "webpage", "note",
	"next_steps", "financials", "location", "description", "status",
	"created_at", "updated_at",
}

const companySelect = `SELECT id, sponsor_id, asset, date_invested, sector, webpage, note, next_steps, financials, location, description, status, created_at, updated_at FROM portfolio_companies`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) SponsorByID(ctx context.Context, id int64) (*model.Sponsor, error) {
	return s.sponsor(ctx, `SELECT id, name, created_at FROM sponsors WHERE id = $1`, id)
}

func (s *PostgresStore) SponsorByName(ctx context.Context, name string) (*model.Sponsor, error) {
	return s.sponsor(ctx, `SELECT id, name, created_at FROM sponsors WHERE lower(name) = lower($1)`, name)
}

func (s *PostgresStore) sponsor(ctx context.Context, query string, arg any) (*model.Sponsor, error) {
	var sp model.Sponsor
	err := s.pool.QueryRow(ctx, query, arg).Scan(&sp.ID, &sp.Name, &sp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get sponsor")
	}
	return &sp, nil
}

func (s *PostgresStore) CreateSponsor(ctx context.Context, name string) (*model.Sponsor, error) {
	var sp model.Sponsor
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sponsors (name) VALUES ($1)
		 ON CONFLICT ((lower(name))) DO UPDATE SET name = sponsors.name
		 RETURNING id, name, created_at`,
		name,
	).Scan(&sp.ID, &sp.Name, &sp.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create sponsor %s", name)
	}
	return &sp, nil
}

// companyRows orders values as companyColumns. asset_key is the folded
// asset name, so identity matches model.FoldName rather than SQL lower().
func companyRows(companies []model.PortfolioCompany, now time.Time) [][]any {
	rows := make([][]any, len(companies))
	for i, c := range companies {
		rows[i] = []any{
			c.SponsorID, c.Asset, model.FoldName(c.Asset), c.DateInvested, c.Sector,
			model.CanonicalWebpage(c.Webpage), c.Note,
			c.NextSteps, c.Financials, c.Location, c.Description, c.Status,
			now, now,
		}
	}
	return rows
}

func (s *PostgresStore) InsertCompanies(ctx context.Context, companies []model.PortfolioCompany) (int, error) {
	if len(companies) == 0 {
		return 0, nil
	}
	var n int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var insErr error
		n, insErr = db.InsertIgnore(ctx, tx, db.InsertConfig{Table: "portfolio_companies", Columns: companyColumns},
			companyRows(companies, time.Now().UTC()))
		return insErr
	})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert companies")
	}
	return int(n), nil
}

func (s *PostgresStore) FindCompanyByAsset(ctx context.Context, sponsorID int64, asset, webpage string) (*model.PortfolioCompany, error) {
	row := s.pool.QueryRow(ctx,
		companySelect+` WHERE sponsor_id = $1 AND asset_key = $2 ORDER BY (webpage = $3) DESC, id LIMIT 1`,
		sponsorID, model.FoldName(asset), model.CanonicalWebpage(webpage))
	c, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find company %s", asset)
	}
	return c, nil
}

func (s *PostgresStore) UpdateDiscoverable(ctx context.Context, companyID int64, c model.Candidate) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE portfolio_companies SET
			date_invested = COALESCE(NULLIF($1, ''), date_invested),
			sector        = COALESCE(NULLIF($2, ''), sector),
			webpage       = COALESCE(NULLIF($3, ''), webpage),
			updated_at    = $4
		 WHERE id = $5`,
		c.DateInvested, c.Sector, model.CanonicalWebpage(c.Webpage), time.Now().UTC(), companyID,
	)
	return eris.Wrapf(err, "postgres: update company %d", companyID)
}

func (s *PostgresStore) ReplaceCompanies(ctx context.Context, sponsorID int64, companies []model.PortfolioCompany) (int, int, error) {
	var deleted, inserted int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM comments WHERE company_id IN (SELECT id FROM portfolio_companies WHERE sponsor_id = $1)`,
			sponsorID,
		); err != nil {
			return eris.Wrap(err, "delete comments")
		}
		tag, err := tx.Exec(ctx, `DELETE FROM portfolio_companies WHERE sponsor_id = $1`, sponsorID)
		if err != nil {
			return eris.Wrap(err, "delete companies")
		}
		deleted = tag.RowsAffected()

		inserted, err = db.InsertIgnore(ctx, tx, db.InsertConfig{Table: "portfolio_companies", Columns: companyColumns},
			companyRows(companies, time.Now().UTC()))
		return err
	})
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: replace companies for sponsor %d", sponsorID)
	}
	return int(deleted), int(inserted), nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, sponsorID int64) ([]model.PortfolioCompany, error) {
	rows, err := s.pool.Query(ctx, companySelect+` WHERE sponsor_id = $1 ORDER BY asset_key, id`, sponsorID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []model.PortfolioCompany
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate companies")
}

func (s *PostgresStore) SaveRunSummary(ctx context.Context, sum model.RunSummary) error {
	totals, err := json.Marshal(sum.Totals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal totals")
	}
	steps, err := json.Marshal(sum.Steps)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal steps")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_summaries (run_id, sponsor_id, sponsor_name, user_id, mode, started_at, ended_at, totals, steps)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (run_id) DO UPDATE SET
			sponsor_id = EXCLUDED.sponsor_id,
			ended_at   = EXCLUDED.ended_at,
			totals     = EXCLUDED.totals,
			steps      = EXCLUDED.steps`,
		sum.RunID, sum.SponsorID, sum.SponsorName, sum.UserID, string(sum.Mode),
		sum.StartedAt, sum.EndedAt, totals, steps,
	)
	return eris.Wrapf(err, "postgres: save run summary %s", sum.RunID)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompany(row rowScanner) (*model.PortfolioCompany, error) {
	var c model.PortfolioCompany
	err := row.Scan(
		&c.ID, &c.SponsorID, &c.Asset, &c.DateInvested, &c.Sector, &c.Webpage, &c.Note,
		&c.NextSteps, &c.Financials, &c.Location, &c.Description, &c.Status,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
