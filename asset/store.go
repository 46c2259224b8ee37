package asset

import "context"

// Store persists the registry record and the asset collection.
type Store interface {
	CreateRegistry(ctx context.Context, r *Registry) error
	GetRegistry(ctx context.Context) (*Registry, error)
	CreateAssets(ctx context.Context, assets []*Asset) error
	GetAsset(ctx context.Context, index int) (*Asset, error)
	ListAssets(ctx context.Context, opts ListOpts) ([]*Asset, error)
	// UpdateAsset writes a.State if the stored version equals expectedVersion,
	// then sets a.Version to expectedVersion+1.
	UpdateAsset(ctx context.Context, a *Asset, expectedVersion int64) error
}

type ListOpts struct {
	Kind   Kind
	Holder AccountID
	Limit  int
	Offset int
}

// Matches reports whether a passes the Kind and Holder filters.
func (o ListOpts) Matches(a *Asset) bool {
	if o.Kind != "" && a.State.Kind != o.Kind {
		return false
	}
	if o.Holder != "" && a.State.Holder != o.Holder {
		return false
	}
	return true
}
