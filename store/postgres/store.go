package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
	rentalstore "github.com/xraph/rental/store"
	"github.com/xraph/rental/store/internal/writecheck"
)

// compile-time interface check
var _ rentalstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("rental/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("rental/postgres: migration failed: %w", err)
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
	res, err := s.pg.NewInsert(m).
		OnConflict("(slot) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	return writecheck.Inserted(rows)
}

func (s *Store) GetRegistry(ctx context.Context) (*asset.Registry, error) {
	m := new(registryModel)
	err := s.pg.NewSelect(m).
		Where("slot = $1", registrySlot).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rental.ErrRegistryNotFound
		}
		return nil, err
	}
	return fromRegistryModel(m)
}

// ==================== Asset Store ====================

func (s *Store) CreateAssets(ctx context.Context, assets []*asset.Asset) error {
	if len(assets) == 0 {
		return nil
	}

	var count int64
	err := s.pg.NewRaw(`SELECT COUNT(*) FROM rental_assets`).Scan(ctx, &count)
	if err != nil {
		return err
	}
	next := int(count)

	models := make([]assetModel, len(assets))
	for i, a := range assets {
		if a.Index != next+i {
			return fmt.Errorf("%w: asset index %d, expected %d", rental.ErrInvalidInput, a.Index, next+i)
		}
		models[i] = *toAssetModel(a)
	}
	_, err = s.pg.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) GetAsset(ctx context.Context, index int) (*asset.Asset, error) {
	m := new(assetModel)
	err := s.pg.NewSelect(m).
		Where("idx = $1", index).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rental.ErrAssetNotFound
		}
		return nil, err
	}
	return fromAssetModel(m)
}

func (s *Store) ListAssets(ctx context.Context, opts asset.ListOpts) ([]*asset.Asset, error) {
	var models []assetModel
	q := s.pg.NewSelect(&models)

	argIdx := 1
	if opts.Kind != "" {
		q = q.Where(fmt.Sprintf("state_kind = $%d", argIdx), string(opts.Kind))
		argIdx++
	}
	if opts.Holder != "" {
		q = q.Where(fmt.Sprintf("holder = $%d", argIdx), string(opts.Holder))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("idx ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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

// UpdateAsset writes the asset state only if the stored version still equals
// expectedVersion, then bumps the version.
func (s *Store) UpdateAsset(ctx context.Context, a *asset.Asset, expectedVersion int64) error {
	t := now()
	res, err := s.pg.NewUpdate((*assetModel)(nil)).
		Set("state_kind = $1", string(a.State.Kind)).
		Set("holder = $2", string(a.State.Holder)).
		Set("version = $3", expectedVersion+1).
		Set("updated_at = $4", t).
		Where("idx = $5", a.Index).
		Where("version = $6", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if err := writecheck.Updated(ctx, rows, s.lookupAsset(a.Index)); err != nil {
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

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
