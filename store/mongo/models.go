package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/id"
	"github.com/xraph/rental/types"
)

// registryDocID is the _id of the single registry document.
const registryDocID = "registry"

// ==================== Registry models ====================

type registryModel struct {
	grove.BaseModel `grove:"table:rental_registry"`

	Slot      string    `grove:"id,pk"      bson:"_id"`
	ID        string    `grove:"registry_id" bson:"registry_id"`
	Size      int       `grove:"size"       bson:"size"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func toRegistryModel(r *asset.Registry) *registryModel {
	return &registryModel{
		Slot:      registryDocID,
		ID:        r.ID.String(),
		Size:      r.Size,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func fromRegistryModel(m *registryModel) (*asset.Registry, error) {
	regID, err := id.ParseRegistryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("rental/mongo: parse registry id: %w", err)
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

	Index     int       `grove:"idx,pk"     bson:"_id"`
	Kind      string    `grove:"state_kind" bson:"state_kind"`
	Holder    string    `grove:"holder"     bson:"holder"`
	Version   int64     `grove:"version"    bson:"version"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
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
		return nil, fmt.Errorf("rental/mongo: asset %d: %w", m.Index, err)
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
