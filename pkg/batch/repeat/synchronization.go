package repeat

import "context"

type contextKey struct{}

// WithContext returns a child context.Context carrying rc as the current loop context.
// Iterate uses it to make rc visible to callbacks, workers and nested loops; since the child is
// discarded when Iterate returns, the caller's previous loop context is restored automatically.
func WithContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the innermost loop context carried by ctx, or nil outside any loop.
func FromContext(ctx context.Context) *Context {
	rc, _ := ctx.Value(contextKey{}).(*Context)
	return rc
}

// SetAncestorsCompleteOnly flags the current loop and every enclosing loop complete-only.
func SetAncestorsCompleteOnly(ctx context.Context) {
	for rc := FromContext(ctx); rc != nil; rc = rc.Parent() {
		rc.SetCompleteOnly()
	}
}
