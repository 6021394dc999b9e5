package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a staged bulk upsert into one table.
type UpsertConfig struct {
	// Table is the merge target, optionally schema-qualified.
	Table string
	// Columns lists every column present in the rows, in row order.
	Columns []string
	// ConflictKeys are the columns of the unique constraint the merge
	// resolves against.
	ConflictKeys []string
	// UpdateCols are the columns rewritten when a row already exists.
	// Leave nil to rewrite every non-key column.
	UpdateCols []string
}

func (cfg UpsertConfig) check() error {
	if cfg.Table == "" {
		return eris.New("db: upsert: table is required")
	}
	if len(cfg.Columns) == 0 {
		return eris.Errorf("db: upsert %s: no columns", cfg.Table)
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.Errorf("db: upsert %s: no conflict keys", cfg.Table)
	}
	return nil
}

// stagingTable derives the session-local staging table name. Dots are
// flattened so a schema-qualified target stays a single identifier.
func (cfg UpsertConfig) stagingTable() string {
	return "staging_" + strings.ReplaceAll(cfg.Table, ".", "_")
}

// mergeSQL builds the INSERT ... SELECT that folds the staging table
// into the target. When no update columns remain after excluding the
// conflict keys the statement degrades to DO NOTHING.
func (cfg UpsertConfig) mergeSQL(staging string) string {
	update := cfg.UpdateCols
	if update == nil {
		for _, col := range cfg.Columns {
			if !slices.Contains(cfg.ConflictKeys, col) {
				update = append(update, col)
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		quoteTable(cfg.Table), identList(cfg.Columns), identList(cfg.Columns),
		quoteIdent(staging), identList(cfg.ConflictKeys))
	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}

	b.WriteString(" DO UPDATE SET ")
	for i, col := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(col))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(quoteIdent(col))
	}
	return b.String()
}

// BulkUpsert merges rows into cfg.Table in one transaction: the rows are
// COPY-loaded into a temp staging table cloned from the target, then
// folded in with INSERT ... ON CONFLICT. Returns the number of rows the
// merge touched.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.check(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: begin", cfg.Table)
	}
	defer tx.Rollback(ctx)

	staging := cfg.stagingTable()
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		quoteIdent(staging), quoteTable(cfg.Table))
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create staging table", cfg.Table)
	}

	if _, err := CopyFrom(ctx, tx, staging, cfg.Columns, rows); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: stage rows", cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.mergeSQL(staging))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: commit", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// quoteTable quotes a table name, splitting off a schema qualifier when
// one is present.
func quoteTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col)
	}
	return strings.Join(quoted, ", ")
}
