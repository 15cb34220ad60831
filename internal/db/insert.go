package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// CopyExecer is the subset of pgx.Tx used by InsertIgnore.
type CopyExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// InsertConfig names the target table and the columns supplied per row.
type InsertConfig struct {
	Table   string
	Columns []string
}

// InsertIgnore bulk-inserts rows, skipping any that collide with a unique
// index, and returns how many were actually inserted. Rows are COPYed into
// a temp table that is dropped on commit, so tx must be a transaction and
// InsertIgnore may be called at most once per table per transaction.
func InsertIgnore(ctx context.Context, tx CopyExecer, cfg InsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if cfg.Table == "" || len(cfg.Columns) == 0 {
		return 0, eris.New("db: insert: table and columns are required")
	}

	target := pgx.Identifier{cfg.Table}.Sanitize()
	temp := "_tmp_insert_" + cfg.Table

	createSQL := "CREATE TEMP TABLE " + pgx.Identifier{temp}.Sanitize() +
		" (LIKE " + target + " INCLUDING DEFAULTS) ON COMMIT DROP"
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: insert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{temp}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: insert: copy into temp table for %s", cfg.Table)
	}

	cols := quoteAndJoin(cfg.Columns)
	insertSQL := "INSERT INTO " + target + " (" + cols + ") SELECT " + cols +
		" FROM " + pgx.Identifier{temp}.Sanitize() + " ON CONFLICT DO NOTHING"
	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: insert: insert into %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
