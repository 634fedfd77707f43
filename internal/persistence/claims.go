package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"podpipe/internal/core"
)

type claimKey struct{}

// WithClaim marks writes made with ctx as belonging to the claim token.
// Backends reject such writes once the episode is no longer claimed by it.
func WithClaim(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, claimKey{}, token)
}

// ClaimToken returns the claim token carried by ctx
func ClaimToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(claimKey{}).(string)
	return token, ok && token != ""
}

// CheckClaim compares the claim stored on an episode with the one carried by
// ctx. Writes without a claim in ctx are not checked.
func CheckClaim(ctx context.Context, id int64, held sql.NullString) error {
	token, ok := ClaimToken(ctx)
	if !ok {
		return nil
	}
	if !held.Valid || held.String != token {
		return fmt.Errorf("%w: episode %d", core.ErrClaimLost, id)
	}
	return nil
}
