package memory

import (
	"context"
	"sync"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store keeps the registry in process memory. Records are copied on the way
// in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	registry *asset.Registry
	assets   []asset.Asset
	closed   bool
}

func New() *Store {
	return &Store{}
}

// Registry record
func (s *Store) CreateRegistry(_ context.Context, r *asset.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rental.ErrStoreClosed
	}
	if s.registry != nil {
		return rental.ErrAlreadyInitialized
	}
	cp := *r
	s.registry = &cp
	return nil
}

func (s *Store) GetRegistry(_ context.Context) (*asset.Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rental.ErrStoreClosed
	}
	if s.registry == nil {
		return nil, rental.ErrRegistryNotFound
	}
	cp := *s.registry
	return &cp, nil
}

// Assets
func (s *Store) CreateAssets(_ context.Context, assets []*asset.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rental.ErrStoreClosed
	}
	next := len(s.assets)
	for _, a := range assets {
		if a.Index != next {
			return rental.ErrInvalidInput
		}
		s.assets = append(s.assets, *a)
		next++
	}
	return nil
}

func (s *Store) GetAsset(_ context.Context, index int) (*asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rental.ErrStoreClosed
	}
	if index < 0 || index >= len(s.assets) {
		return nil, rental.ErrAssetNotFound
	}
	cp := s.assets[index]
	return &cp, nil
}

func (s *Store) ListAssets(_ context.Context, opts asset.ListOpts) ([]*asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rental.ErrStoreClosed
	}

	result := make([]*asset.Asset, 0)
	for i := range s.assets {
		if opts.Matches(&s.assets[i]) {
			cp := s.assets[i]
			result = append(result, &cp)
		}
	}

	// Apply limit/offset
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) UpdateAsset(_ context.Context, a *asset.Asset, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rental.ErrStoreClosed
	}
	if a.Index < 0 || a.Index >= len(s.assets) {
		return rental.ErrAssetNotFound
	}
	stored := &s.assets[a.Index]
	if stored.Version != expectedVersion {
		return rental.ErrConcurrentModification
	}

	stored.State = a.State
	stored.Version = expectedVersion + 1
	stored.Touch()

	a.Version = stored.Version
	a.UpdatedAt = stored.UpdatedAt
	return nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return rental.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
