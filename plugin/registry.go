package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/settlement"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting an event never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onRegistryInitialized  []OnRegistryInitialized
	onUseStarted           []OnUseStarted
	onUseEnded             []OnUseEnded
	onInspectionStarted    []OnInspectionStarted
	onOperationRejected    []OnOperationRejected
	onSettlementDispatched []OnSettlementDispatched
	onSettlementSucceeded  []OnSettlementSucceeded
	onSettlementFailed     []OnSettlementFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook call timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnRegistryInitialized); ok {
		r.onRegistryInitialized = append(r.onRegistryInitialized, v)
	}
	if v, ok := p.(OnUseStarted); ok {
		r.onUseStarted = append(r.onUseStarted, v)
	}
	if v, ok := p.(OnUseEnded); ok {
		r.onUseEnded = append(r.onUseEnded, v)
	}
	if v, ok := p.(OnInspectionStarted); ok {
		r.onInspectionStarted = append(r.onInspectionStarted, v)
	}
	if v, ok := p.(OnOperationRejected); ok {
		r.onOperationRejected = append(r.onOperationRejected, v)
	}
	if v, ok := p.(OnSettlementDispatched); ok {
		r.onSettlementDispatched = append(r.onSettlementDispatched, v)
	}
	if v, ok := p.(OnSettlementSucceeded); ok {
		r.onSettlementSucceeded = append(r.onSettlementSucceeded, v)
	}
	if v, ok := p.(OnSettlementFailed); ok {
		r.onSettlementFailed = append(r.onSettlementFailed, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnRegistryInitialized", reflect.TypeOf((*OnRegistryInitialized)(nil)).Elem()},
	{"OnUseStarted", reflect.TypeOf((*OnUseStarted)(nil)).Elem()},
	{"OnUseEnded", reflect.TypeOf((*OnUseEnded)(nil)).Elem()},
	{"OnInspectionStarted", reflect.TypeOf((*OnInspectionStarted)(nil)).Elem()},
	{"OnOperationRejected", reflect.TypeOf((*OnOperationRejected)(nil)).Elem()},
	{"OnSettlementDispatched", reflect.TypeOf((*OnSettlementDispatched)(nil)).Elem()},
	{"OnSettlementSucceeded", reflect.TypeOf((*OnSettlementSucceeded)(nil)).Elem()},
	{"OnSettlementFailed", reflect.TypeOf((*OnSettlementFailed)(nil)).Elem()},
}

// implementedInterfaces returns the hook names a plugin implements.
func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, registry interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, registry)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRegistryInitialized emits a registry initialized event.
func (r *Registry) EmitRegistryInitialized(ctx context.Context, reg *asset.Registry) {
	r.mu.RLock()
	plugins := r.onRegistryInitialized
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRegistryInitialized(ctx, reg)
		}); err != nil {
			r.logger.Warn("plugin OnRegistryInitialized failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitUseStarted emits a use started event.
func (r *Registry) EmitUseStarted(ctx context.Context, a *asset.Asset) {
	r.mu.RLock()
	plugins := r.onUseStarted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnUseStarted(ctx, a)
		}); err != nil {
			r.logger.Warn("plugin OnUseStarted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitUseEnded emits a use ended event.
func (r *Registry) EmitUseEnded(ctx context.Context, a *asset.Asset, holder asset.AccountID) {
	r.mu.RLock()
	plugins := r.onUseEnded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnUseEnded(ctx, a, holder)
		}); err != nil {
			r.logger.Warn("plugin OnUseEnded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInspectionStarted emits an inspection started event.
func (r *Registry) EmitInspectionStarted(ctx context.Context, a *asset.Asset) {
	r.mu.RLock()
	plugins := r.onInspectionStarted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInspectionStarted(ctx, a)
		}); err != nil {
			r.logger.Warn("plugin OnInspectionStarted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitOperationRejected emits a rejected operation event.
func (r *Registry) EmitOperationRejected(ctx context.Context, op string, index int, caller asset.AccountID, cause error) {
	r.mu.RLock()
	plugins := r.onOperationRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnOperationRejected(ctx, op, index, caller, cause)
		}); err != nil {
			r.logger.Warn("plugin OnOperationRejected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSettlementDispatched emits a settlement dispatched event.
func (r *Registry) EmitSettlementDispatched(ctx context.Context, h *settlement.Handle) {
	r.mu.RLock()
	plugins := r.onSettlementDispatched
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSettlementDispatched(ctx, h)
		}); err != nil {
			r.logger.Warn("plugin OnSettlementDispatched failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSettlementSucceeded emits a settlement succeeded event.
func (r *Registry) EmitSettlementSucceeded(ctx context.Context, h *settlement.Handle, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onSettlementSucceeded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSettlementSucceeded(ctx, h, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnSettlementSucceeded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSettlementFailed emits a settlement failed event.
func (r *Registry) EmitSettlementFailed(ctx context.Context, h *settlement.Handle, cause error) {
	r.mu.RLock()
	plugins := r.onSettlementFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSettlementFailed(ctx, h, cause)
		}); err != nil {
			r.logger.Warn("plugin OnSettlementFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// A slow plugin must never stall a registry operation.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
