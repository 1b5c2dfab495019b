package hook

import "context"

// sqlFileContextKey is the context key for the query template name.
type sqlFileContextKey struct{}

// WithSQLFile returns a new context carrying the name of the query template
// being executed.
func WithSQLFile(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, sqlFileContextKey{}, name)
}

// SQLFileFromContext returns the query template name, or "" if none is set.
func SQLFileFromContext(ctx context.Context) string {
	name, _ := ctx.Value(sqlFileContextKey{}).(string)
	return name
}
