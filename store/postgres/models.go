package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/id"
	"github.com/xraph/rental/types"
)

// registrySlot is the primary key of the single registry row.
const registrySlot = 1

// ==================== Registry models ====================

type registryModel struct {
	grove.BaseModel `grove:"table:rental_registry"`

	Slot      int       `grove:"slot,pk"`
	ID        string    `grove:"id"`
	Size      int       `grove:"size"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toRegistryModel(r *asset.Registry) *registryModel {
	return &registryModel{
		Slot:      registrySlot,
		ID:        r.ID.String(),
		Size:      r.Size,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func fromRegistryModel(m *registryModel) (*asset.Registry, error) {
	regID, err := id.ParseRegistryID(m.ID)
	if err != nil {
		return nil, err
	}
	return &asset.Registry{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:   regID,
		Size: m.Size,
	}, nil
}

// ==================== Asset models ====================

type assetModel struct {
	grove.BaseModel `grove:"table:rental_assets"`

	Index     int       `grove:"idx,pk"`
	Kind      string    `grove:"state_kind"`
	Holder    string    `grove:"holder"`
	Version   int64     `grove:"version"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toAssetModel(a *asset.Asset) *assetModel {
	return &assetModel{
		Index:     a.Index,
		Kind:      string(a.State.Kind),
		Holder:    string(a.State.Holder),
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func fromAssetModel(m *assetModel) (*asset.Asset, error) {
	st := asset.State{Kind: asset.Kind(m.Kind), Holder: asset.AccountID(m.Holder)}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return &asset.Asset{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Index:   m.Index,
		State:   st,
		Version: m.Version,
	}, nil
}
