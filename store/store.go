// Package store defines the persistence boundary for the asset registry.
// Backends live in sub-packages: memory, sqlite, postgres and mongo.
package store

import (
	"context"

	"github.com/xraph/rental/asset"
)

// Store is the unified storage interface for the registry record and the
// asset collection. Methods are declared explicitly rather than embedding
// asset.Store so the backend surface reads in one place.
type Store interface {
	// Registry record
	CreateRegistry(ctx context.Context, r *asset.Registry) error
	GetRegistry(ctx context.Context) (*asset.Registry, error)

	// Assets
	CreateAssets(ctx context.Context, assets []*asset.Asset) error
	GetAsset(ctx context.Context, index int) (*asset.Asset, error)
	ListAssets(ctx context.Context, opts asset.ListOpts) ([]*asset.Asset, error)
	UpdateAsset(ctx context.Context, a *asset.Asset, expectedVersion int64) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
