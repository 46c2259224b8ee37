package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
	rentalstore "github.com/xraph/rental/store"
	"github.com/xraph/rental/store/internal/writecheck"
)

// Collection name constants.
const (
	colRegistry = "rental_registry"
	colAssets   = "rental_assets"
)

// compile-time interface check
var _ rentalstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for the rental collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("rental/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Registry Store ====================

func (s *Store) CreateRegistry(ctx context.Context, r *asset.Registry) error {
	m := toRegistryModel(r)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return writecheck.Inserted(0)
		}
		return fmt.Errorf("rental/mongo: create registry: %w", err)
	}
	return nil
}

func (s *Store) GetRegistry(ctx context.Context) (*asset.Registry, error) {
	var m registryModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": registryDocID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rental.ErrRegistryNotFound
		}
		return nil, fmt.Errorf("rental/mongo: get registry: %w", err)
	}
	return fromRegistryModel(&m)
}

// ==================== Asset Store ====================

func (s *Store) CreateAssets(ctx context.Context, assets []*asset.Asset) error {
	if len(assets) == 0 {
		return nil
	}

	count, err := s.mdb.Collection(colAssets).CountDocuments(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("rental/mongo: count assets: %w", err)
	}
	next := int(count)

	for i, a := range assets {
		if a.Index != next+i {
			return fmt.Errorf("%w: asset index %d, expected %d", rental.ErrInvalidInput, a.Index, next+i)
		}
	}
	for _, a := range assets {
		if _, err := s.mdb.NewInsert(toAssetModel(a)).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: asset %d already exists", rental.ErrInvalidInput, a.Index)
			}
			return fmt.Errorf("rental/mongo: create asset %d: %w", a.Index, err)
		}
	}
	return nil
}

func (s *Store) GetAsset(ctx context.Context, index int) (*asset.Asset, error) {
	var m assetModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": index}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rental.ErrAssetNotFound
		}
		return nil, fmt.Errorf("rental/mongo: get asset: %w", err)
	}
	return fromAssetModel(&m)
}

func (s *Store) ListAssets(ctx context.Context, opts asset.ListOpts) ([]*asset.Asset, error) {
	var models []assetModel

	filter := bson.M{}
	if opts.Kind != "" {
		filter["state_kind"] = string(opts.Kind)
	}
	if opts.Holder != "" {
		filter["holder"] = string(opts.Holder)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rental/mongo: list assets: %w", err)
	}

	result := make([]*asset.Asset, len(models))
	for i := range models {
		a, err := fromAssetModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

// UpdateAsset matches on both index and expected version so a stale writer
// updates nothing.
func (s *Store) UpdateAsset(ctx context.Context, a *asset.Asset, expectedVersion int64) error {
	t := now()
	res, err := s.mdb.NewUpdate((*assetModel)(nil)).
		Filter(bson.M{"_id": a.Index, "version": expectedVersion}).
		Set("state_kind", string(a.State.Kind)).
		Set("holder", string(a.State.Holder)).
		Set("version", expectedVersion+1).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rental/mongo: update asset: %w", err)
	}
	if err := writecheck.Updated(ctx, int64(res.MatchedCount()), s.lookupAsset(a.Index)); err != nil {
		return err
	}

	a.Version = expectedVersion + 1
	a.UpdatedAt = t
	return nil
}

// ==================== Helpers ====================

// lookupAsset reports whether asset index exists.
func (s *Store) lookupAsset(index int) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.GetAsset(ctx, index)
		return err
	}
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for the rental collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colRegistry: {},
		colAssets: {
			{Keys: bson.D{{Key: "state_kind", Value: 1}, {Key: "holder", Value: 1}}},
		},
	}
}
