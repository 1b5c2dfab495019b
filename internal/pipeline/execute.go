package pipeline

import (
	"context"
	"maps"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/hyperengineering/lmbridge/internal/hook"
)

// queryRows runs sql on db and scans every row into a column map.
// Templates use ? placeholders and are rebound for the pool's driver.
func queryRows(ctx context.Context, db *sqlx.DB, sql string, args []any) ([]hook.Row, error) {
	rows, err := db.QueryxContext(ctx, db.Rebind(sql), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []hook.Row{}
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok && utf8.Valid(b) {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// cloneRows copies the slice and each row map so a failing hook cannot leave
// partial edits behind.
func cloneRows(rows []hook.Row) []hook.Row {
	if rows == nil {
		return nil
	}
	out := make([]hook.Row, len(rows))
	for i, r := range rows {
		out[i] = maps.Clone(r)
	}
	return out
}
