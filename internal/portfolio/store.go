// Package portfolio persists sponsors and their portfolio companies and
// reconciles discovered candidates into them.
package portfolio

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-discovery/internal/db"
	"github.com/sells-group/portfolio-discovery/internal/model"
)

// Store is the persistence surface used by the Writer, the export command
// and the run summary audit log. Lookups return (nil, nil) when nothing
// matches.
type Store interface {
	Migrate(ctx context.Context) error

	SponsorByID(ctx context.Context, id int64) (*model.Sponsor, error)
	// SponsorByName matches case-insensitively.
	SponsorByName(ctx context.Context, name string) (*model.Sponsor, error)
	// CreateSponsor returns the existing row when the name is already taken.
	CreateSponsor(ctx context.Context, name string) (*model.Sponsor, error)

	// InsertCompanies skips rows that collide with an existing company of
	// the same sponsor and returns the number actually inserted. A company
	// is identified by its folded asset name (model.FoldName) and canonical
	// webpage (model.CanonicalWebpage).
	InsertCompanies(ctx context.Context, companies []model.PortfolioCompany) (int, error)
	// FindCompanyByAsset matches the folded asset name. Among several rows
	// with that name it prefers the one whose webpage equals webpage.
	FindCompanyByAsset(ctx context.Context, sponsorID int64, asset, webpage string) (*model.PortfolioCompany, error)
	// UpdateDiscoverable overwrites date_invested, sector and webpage when
	// the candidate supplies them. No other column is touched.
	UpdateDiscoverable(ctx context.Context, companyID int64, c model.Candidate) error
	// ReplaceCompanies deletes every company of the sponsor, and their
	// comments, then inserts companies, all in one transaction.
	ReplaceCompanies(ctx context.Context, sponsorID int64, companies []model.PortfolioCompany) (deleted, inserted int, err error)
	ListCompanies(ctx context.Context, sponsorID int64) ([]model.PortfolioCompany, error)

	// SaveRunSummary upserts on run_id.
	SaveRunSummary(ctx context.Context, s model.RunSummary) error

	Close() error
}

// OpenConfig selects and configures a Store backend.
type OpenConfig struct {
	Driver      string // "postgres" or "sqlite"
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg OpenConfig) (Store, error) {
	switch cfg.Driver {
	case "", "postgres":
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, eris.Wrap(err, "portfolio: open postgres")
		}
		return NewPostgresStore(pool, pool.Close), nil
	case "sqlite":
		s, err := NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "portfolio: open sqlite")
		}
		return s, nil
	}
	return nil, eris.Errorf("portfolio: unknown store driver %q", cfg.Driver)
}
