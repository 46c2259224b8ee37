package rental

import (
	"context"

	"github.com/xraph/rental/settlement"
)

// ResumeSettlement runs the settlement continuation with the registry's own
// authority.
func ResumeSettlement(ctx context.Context, r *Registry, index int, results []settlement.Result) error {
	return r.resumeSettlement(ctx, r.auth, index, results)
}

// ResumeSettlementForged runs the continuation with a capability the
// registry never minted.
func ResumeSettlementForged(ctx context.Context, r *Registry, index int, results []settlement.Result) error {
	return r.resumeSettlement(ctx, &authority{}, index, results)
}

// FinalizeWithoutAuthority calls the privileged finalize path with no
// capability at all.
func FinalizeWithoutAuthority(ctx context.Context, r *Registry, index int) error {
	return r.finalizeInspectionReturn(ctx, nil, index)
}
