package rental

import (
	"context"

	"github.com/xraph/rental/asset"
)

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller identity.
func WithCaller(ctx context.Context, caller asset.AccountID) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller identity carried by ctx, if any.
func CallerFrom(ctx context.Context) (asset.AccountID, bool) {
	c, ok := ctx.Value(callerKey{}).(asset.AccountID)
	if !ok || c == "" {
		return "", false
	}
	return c, true
}
