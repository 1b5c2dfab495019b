// Package mirror looks up documents in the MusicBrainz metadata mirror by
// running embedded SQL templates through the query pipeline.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/hyperengineering/lmbridge/internal/hook"
	"github.com/hyperengineering/lmbridge/queries"
)

// Provider is the logical owner reported to query hooks.
const Provider = "musicbrainz"

// Template names.
const (
	AlbumTemplate  = "release_group_by_id.sql"
	ArtistTemplate = "artist_by_id.sql"
)

// ErrNotFound indicates the lookup returned no rows.
var ErrNotFound = errors.New("not found in mirror")

// Querier runs one SQL statement and returns its rows.
type Querier interface {
	MapQuery(ctx context.Context, provider, sql string, args ...any) ([]hook.Row, error)
}

// Lookup is the read API served over HTTP.
type Lookup interface {
	Album(ctx context.Context, mbid string) ([]byte, error)
	Artist(ctx context.Context, mbid string) ([]byte, error)
}

// Mirror implements Lookup over a Querier.
type Mirror struct {
	q         Querier
	templates map[string]string
}

var _ Lookup = (*Mirror)(nil)

// New loads every template from queries.FS.
func New(q Querier) (*Mirror, error) {
	return NewFromFS(q, queries.FS)
}

// NewFromFS loads every *.sql file at the root of fsys.
func NewFromFS(q Querier, fsys fs.FS) (*Mirror, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	templates := make(map[string]string, len(names))
	for _, name := range names {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		templates[path.Base(name)] = strings.TrimSpace(string(b))
	}
	return &Mirror{q: q, templates: templates}, nil
}

// QueryFromFile runs the named template. Hooks see the name as the query's SQL file.
func (m *Mirror) QueryFromFile(ctx context.Context, name string, args ...any) ([]hook.Row, error) {
	sql, ok := m.templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown query template %q", name)
	}
	return m.q.MapQuery(hook.WithSQLFile(ctx, name), Provider, sql, args...)
}

// Album returns the release group document for mbid.
func (m *Mirror) Album(ctx context.Context, mbid string) ([]byte, error) {
	return m.document(ctx, AlbumTemplate, "album", mbid)
}

// Artist returns the artist document for mbid.
func (m *Mirror) Artist(ctx context.Context, mbid string) ([]byte, error) {
	return m.document(ctx, ArtistTemplate, "artist", mbid)
}

func (m *Mirror) document(ctx context.Context, template, column, mbid string) ([]byte, error) {
	rows, err := m.QueryFromFile(ctx, template, mbid)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s: %w", column, mbid, ErrNotFound)
	}

	switch v := rows[0][column].(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return nil, fmt.Errorf("%s %s: %w", column, mbid, ErrNotFound)
	default:
		return nil, fmt.Errorf("%s %s: unexpected column type %T", column, mbid, v)
	}
}
