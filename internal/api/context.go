package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/jukutatsu/internal/types"
)

// kindContextKey is the context key for the resolved collection.
type kindContextKey struct{}

// ErrNoKindInContext indicates no collection was found in the context.
var ErrNoKindInContext = errors.New("no kind in context")

// WithKind returns a new context with the collection name attached.
func WithKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, kindContextKey{}, kind)
}

// KindFromContext extracts the collection name from the context.
// Returns ErrNoKindInContext if not present or empty.
func KindFromContext(ctx context.Context) (string, error) {
	kind, ok := ctx.Value(kindContextKey{}).(string)
	if !ok || kind == "" {
		return "", ErrNoKindInContext
	}
	return kind, nil
}

// MustKindFromContext extracts the collection name or panics.
// Use only when middleware guarantees its presence.
func MustKindFromContext(ctx context.Context) string {
	kind, err := KindFromContext(ctx)
	if err != nil {
		panic("kind not in context: middleware misconfiguration")
	}
	return kind
}

// KindMiddleware resolves the {kind} URL parameter and rejects unknown
// collections with 404.
func KindMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind := chi.URLParam(r, "kind")
		if !types.ValidKind(kind) {
			WriteProblem(w, r, http.StatusNotFound, "Unknown collection: "+kind)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithKind(r.Context(), kind)))
	})
}
