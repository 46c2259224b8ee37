// Package plugin provides an extensible plugin system for Rental.
// Plugins can hook into registry lifecycle and settlement events.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/settlement"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the registry starts. r is the *rental.Registry.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, r interface{}) error
}

// OnShutdown is called when the registry stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// OnRegistryInitialized is called once the asset collection is created.
type OnRegistryInitialized interface {
	Plugin
	OnRegistryInitialized(ctx context.Context, reg *asset.Registry) error
}

// ──────────────────────────────────────────────────
// Asset transition hooks
// ──────────────────────────────────────────────────

// OnUseStarted is called after an asset moves from Available to InUse.
type OnUseStarted interface {
	Plugin
	OnUseStarted(ctx context.Context, a *asset.Asset) error
}

// OnUseEnded is called after a holder returns an asset it was using.
type OnUseEnded interface {
	Plugin
	OnUseEnded(ctx context.Context, a *asset.Asset, holder asset.AccountID) error
}

// OnInspectionStarted is called after an asset moves from Available to Inspection.
type OnInspectionStarted interface {
	Plugin
	OnInspectionStarted(ctx context.Context, a *asset.Asset) error
}

// OnOperationRejected is called when a registry operation fails validation.
type OnOperationRejected interface {
	Plugin
	OnOperationRejected(ctx context.Context, op string, index int, caller asset.AccountID, err error) error
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementDispatched is called when a reward transfer is sent.
type OnSettlementDispatched interface {
	Plugin
	OnSettlementDispatched(ctx context.Context, h *settlement.Handle) error
}

// OnSettlementSucceeded is called after a confirmed transfer released the asset.
type OnSettlementSucceeded interface {
	Plugin
	OnSettlementSucceeded(ctx context.Context, h *settlement.Handle, elapsed time.Duration) error
}

// OnSettlementFailed is called when a settlement resolves without releasing
// the asset, either because the transfer failed or the result was invalid.
type OnSettlementFailed interface {
	Plugin
	OnSettlementFailed(ctx context.Context, h *settlement.Handle, err error) error
}
