// Package db holds the pgx helpers behind the postgres store: COPY bulk
// loads and staged upserts over a pool interface pgxmock can stand in for.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom loads rows through the COPY protocol, the cheapest path for
// moving a season backfill into postgres. dst may be the pool or an
// open transaction.
func CopyFrom(ctx context.Context, dst Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, eris.Errorf("db: copy into %s: no columns", table)
	}

	n, err := dst.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", table)
	}
	return n, nil
}
