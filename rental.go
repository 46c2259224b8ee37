package rental

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/id"
	"github.com/xraph/rental/internal/ratelimit"
	"github.com/xraph/rental/plugin"
	"github.com/xraph/rental/settlement"
	"github.com/xraph/rental/store"
	"github.com/xraph/rental/token"
	"github.com/xraph/rental/types"
)

// Defaults for the reward settlement.
const (
	DefaultTokenAccount asset.AccountID = "sub.ft_jk.testnet"
	DefaultRewardUnits  int64           = 15
	DefaultRewardToken  string          = "ft"
)

// Operation names used in logs, traces and plugin events.
const (
	OpInitialize      = "initialize"
	OpBeginUse        = "begin_use"
	OpBeginInspection = "begin_inspection"
	OpEnd             = "end_use_or_inspection"
	OpFinalize        = "finalize_inspection_return"
)

// authority is the capability the registry hands to its settlement
// coordinator. Only a continuation presenting the registry's own pointer may
// reach the privileged finalize path. The field keeps the type non-zero-sized
// so distinct allocations never compare equal.
type authority struct{ _ byte }

// Registry is the asset registry. It owns the authoritative asset states and
// serializes every mutating call and every settlement continuation.
type Registry struct {
	store   store.Store
	tokens  token.Service
	plugins *plugin.Registry
	logger  *slog.Logger
	tracer  trace.Tracer
	limiter *ratelimit.KeyLimiter

	// Settlement configuration
	tokenAccount asset.AccountID
	selfAccount  asset.AccountID
	reward       types.Amount
	skipMigrate  bool

	// mu is the host lock: writes are exclusive, queries shared.
	mu     sync.RWMutex
	record atomic.Pointer[asset.Registry]

	auth  *authority
	coord *coordinator

	stopOnce sync.Once
}

// New creates a new Registry over s, paying rewards through tokens.
func New(s store.Store, tokens token.Service, opts ...Option) *Registry {
	r := &Registry{
		store:        s,
		tokens:       tokens,
		plugins:      plugin.NewRegistry(),
		logger:       slog.Default(),
		tracer:       otel.Tracer("github.com/xraph/rental"),
		tokenAccount: DefaultTokenAccount,
		reward:       types.Tokens(DefaultRewardUnits, DefaultRewardToken),
		auth:         &authority{},
	}

	for _, opt := range opts {
		opt(r)
	}

	r.coord = newCoordinator(r, r.auth)
	return r
}

// Option configures a Registry instance.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
		r.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(r *Registry) {
		_ = r.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithTokenAccount sets the account of the token contract rewards are paid from.
func WithTokenAccount(account asset.AccountID) Option {
	return func(r *Registry) { r.tokenAccount = account }
}

// WithSelfAccount sets the account the registry transfers from.
func WithSelfAccount(account asset.AccountID) Option {
	return func(r *Registry) { r.selfAccount = account }
}

// WithReward sets the reward paid for each completed inspection.
func WithReward(units int64) Option {
	return func(r *Registry) { r.reward = types.Tokens(units, r.reward.Token) }
}

// WithCallerRateLimit limits each caller to rps mutating calls per second
// with the given burst. Non-positive values disable the limit.
func WithCallerRateLimit(rps float64, burst int) Option {
	return func(r *Registry) { r.limiter = ratelimit.New(rps, burst, 10*time.Minute) }
}

// WithTracer sets the tracer used for operation and settlement spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

// WithoutMigrate makes Start skip store migrations, for schemas managed
// outside the registry.
func WithoutMigrate() Option {
	return func(r *Registry) { r.skipMigrate = true }
}

// Plugins returns the plugin registry.
func (r *Registry) Plugins() *plugin.Registry { return r.plugins }

// TokenAccount returns the configured token contract account.
func (r *Registry) TokenAccount() asset.AccountID { return r.tokenAccount }

// Reward returns the amount paid per completed inspection.
func (r *Registry) Reward() types.Amount { return r.reward }

// Start migrates the store, loads the registry record if one exists and
// notifies plugins.
func (r *Registry) Start(ctx context.Context) error {
	if !r.reward.IsPositive() {
		return ValidationError{Field: "reward", Message: "must be positive"}
	}
	if r.tokenAccount == "" {
		return ValidationError{Field: "token_account", Message: "must not be empty"}
	}

	if !r.skipMigrate {
		if err := r.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
		}
	}

	rec, err := r.store.GetRegistry(ctx)
	switch {
	case err == nil:
		r.record.Store(rec)
	case errors.Is(err, ErrRegistryNotFound):
	default:
		return fmt.Errorf("load registry record: %w", err)
	}

	r.plugins.EmitInit(ctx, r)

	r.logger.Info("rental registry started",
		"initialized", rec != nil,
		"token_account", r.tokenAccount,
		"reward", r.reward.String(),
	)

	return nil
}

// Stop cancels outstanding settlements, waits for their continuations and
// closes the store. Cancelled transfers resolve as failures.
func (r *Registry) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		r.coord.stop()

		r.plugins.EmitShutdown(context.Background())
		err = r.store.Close()

		r.logger.Info("rental registry stopped")
	})
	return err
}

// ──────────────────────────────────────────────────
// Initialization
// ──────────────────────────────────────────────────

// Initialize creates count Available assets. It may succeed only once per
// store; count may be zero.
func (r *Registry) Initialize(ctx context.Context, count int) error {
	if count < 0 {
		return ValidationError{Field: "count", Message: "must not be negative"}
	}

	ctx, span := r.tracer.Start(ctx, "rental.initialize")
	defer span.End()

	r.mu.Lock()
	rec, err := r.initializeLocked(ctx, count)
	r.mu.Unlock()
	if err != nil {
		recordSpanError(span, err)
		return err
	}

	r.logger.Info("rental registry initialized",
		"registry_id", rec.ID.String(),
		"size", rec.Size,
	)
	r.plugins.EmitRegistryInitialized(ctx, rec)
	return nil
}

func (r *Registry) initializeLocked(ctx context.Context, count int) (*asset.Registry, error) {
	if r.record.Load() != nil {
		return nil, ErrAlreadyInitialized
	}
	switch _, err := r.store.GetRegistry(ctx); {
	case err == nil:
		return nil, ErrAlreadyInitialized
	case !errors.Is(err, ErrRegistryNotFound):
		return nil, err
	}

	assets := make([]*asset.Asset, count)
	for i := range assets {
		assets[i] = &asset.Asset{
			Entity: types.NewEntity(),
			Index:  i,
			State:  asset.Available(),
		}
	}
	if count > 0 {
		if err := r.store.CreateAssets(ctx, assets); err != nil {
			return nil, fmt.Errorf("create assets: %w", err)
		}
	}

	// The record goes last: its presence marks a complete initialization.
	rec := &asset.Registry{
		Entity: types.NewEntity(),
		ID:     id.NewRegistryID(),
		Size:   count,
	}
	if err := r.store.CreateRegistry(ctx, rec); err != nil {
		return nil, err
	}
	r.record.Store(rec)
	return rec, nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Size returns the number of assets.
func (r *Registry) Size(ctx context.Context) (int, error) {
	rec, err := r.loadRecord(ctx)
	if err != nil {
		return 0, err
	}
	return rec.Size, nil
}

// IsAvailable reports whether asset index is free.
func (r *Registry) IsAvailable(ctx context.Context, index int) (bool, error) {
	a, err := r.Asset(ctx, index)
	if err != nil {
		return false, err
	}
	return a.State.IsAvailable(), nil
}

// CurrentHolder returns who is using asset index. ok is false unless the
// asset is InUse.
func (r *Registry) CurrentHolder(ctx context.Context, index int) (holder asset.AccountID, ok bool, err error) {
	a, err := r.Asset(ctx, index)
	if err != nil {
		return "", false, err
	}
	holder, ok = a.State.User()
	return holder, ok, nil
}

// CurrentInspector returns who is inspecting asset index. ok is false unless
// the asset is in Inspection.
func (r *Registry) CurrentInspector(ctx context.Context, index int) (inspector asset.AccountID, ok bool, err error) {
	a, err := r.Asset(ctx, index)
	if err != nil {
		return "", false, err
	}
	inspector, ok = a.State.Inspector()
	return inspector, ok, nil
}

// Asset returns a snapshot of asset index.
func (r *Registry) Asset(ctx context.Context, index int) (*asset.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load(ctx, index)
}

// Assets returns snapshots of the assets matching opts, ordered by index.
func (r *Registry) Assets(ctx context.Context, opts asset.ListOpts) ([]*asset.Asset, error) {
	if _, err := r.loadRecord(ctx); err != nil {
		return nil, err
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, ValidationError{Field: "limit/offset", Message: "must not be negative"}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.ListAssets(ctx, opts)
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

// BeginUse moves asset index from Available to InUse(caller).
func (r *Registry) BeginUse(ctx context.Context, index int) error {
	return r.begin(ctx, OpBeginUse, index, asset.InUse)
}

// BeginInspection moves asset index from Available to Inspection(caller).
func (r *Registry) BeginInspection(ctx context.Context, index int) error {
	return r.begin(ctx, OpBeginInspection, index, asset.Inspection)
}

func (r *Registry) begin(ctx context.Context, op string, index int, next func(asset.AccountID) asset.State) error {
	ctx, span := r.tracer.Start(ctx, "rental."+op, trace.WithAttributes(indexAttr(index)))
	defer span.End()

	caller, err := r.authenticate(ctx)
	if err != nil {
		recordSpanError(span, err)
		return r.reject(ctx, op, index, caller, err)
	}

	r.mu.Lock()
	a, err := r.load(ctx, index)
	if err == nil && !a.State.IsAvailable() {
		err = fmt.Errorf("%w: asset %d is %s", ErrNotAvailable, index, a.State.Kind)
	}
	if err == nil {
		a.State = next(caller)
		err = r.store.UpdateAsset(ctx, a, a.Version)
	}
	r.mu.Unlock()

	if err != nil {
		recordSpanError(span, err)
		return r.reject(ctx, op, index, caller, err)
	}

	r.logger.Info("asset taken",
		"op", op,
		"index", index,
		"caller", caller,
		"state", a.State.String(),
	)

	if op == OpBeginUse {
		r.plugins.EmitUseStarted(ctx, a)
	} else {
		r.plugins.EmitInspectionStarted(ctx, a)
	}
	return nil
}

// EndUseOrInspection returns asset index on behalf of the caller.
//
// A ride ends synchronously: the asset becomes Available and the returned
// handle is nil. An inspection does not change state here; the reward
// transfer is dispatched and the returned handle resolves once the
// continuation has run. The asset stays in Inspection until the transfer is
// confirmed, and for good if it fails.
func (r *Registry) EndUseOrInspection(ctx context.Context, index int) (*settlement.Handle, error) {
	ctx, span := r.tracer.Start(ctx, "rental."+OpEnd, trace.WithAttributes(indexAttr(index)))
	defer span.End()

	caller, err := r.authenticate(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, r.reject(ctx, OpEnd, index, caller, err)
	}

	var (
		handle *settlement.Handle
		ended  *asset.Asset
	)

	r.mu.Lock()
	a, err := r.load(ctx, index)
	if err == nil {
		switch a.State.Kind {
		case asset.KindAvailable:
			err = fmt.Errorf("%w: asset %d", ErrAlreadyAvailable, index)
		case asset.KindInUse:
			if a.State.Holder != caller {
				err = fmt.Errorf("%w: asset %d", ErrUnauthorized, index)
				break
			}
			a.State = asset.Available()
			if err = r.store.UpdateAsset(ctx, a, a.Version); err == nil {
				ended = a
			}
		case asset.KindInspection:
			if a.State.Holder != caller {
				err = fmt.Errorf("%w: asset %d", ErrUnauthorized, index)
				break
			}
			handle, err = r.coord.settleInspectionReturn(ctx, index, caller)
		default:
			err = fmt.Errorf("%w: asset %d has unknown state %q", ErrInvalidTransition, index, a.State.Kind)
		}
	}
	r.mu.Unlock()

	if err != nil {
		recordSpanError(span, err)
		return nil, r.reject(ctx, OpEnd, index, caller, err)
	}

	if ended != nil {
		r.logger.Info("asset returned",
			"index", index,
			"caller", caller,
		)
		r.plugins.EmitUseEnded(ctx, ended, caller)
		return nil, nil
	}

	r.logger.Info("inspection return pending settlement",
		"index", index,
		"caller", caller,
		"settlement_id", handle.ID.String(),
	)
	r.plugins.EmitSettlementDispatched(ctx, handle)
	return handle, nil
}

// ──────────────────────────────────────────────────
// Privileged continuation
// ──────────────────────────────────────────────────

// resumeSettlement is the continuation of an inspection-return transfer. It
// must be given exactly one result and the registry's own authority.
func (r *Registry) resumeSettlement(ctx context.Context, auth *authority, index int, results []settlement.Result) error {
	if !r.authorized(auth) {
		return ErrPrivateCall
	}
	if len(results) != 1 {
		return fmt.Errorf("%w: expected exactly one transfer result, got %d", ErrProtocolViolation, len(results))
	}

	res := results[0]
	switch res.Status {
	case settlement.StatusSuccessful:
		return r.finalizeInspectionReturn(ctx, auth, index)
	case settlement.StatusFailed:
		if res.Err == nil {
			return ErrExternalTransferFailed
		}
		return fmt.Errorf("%w: %w", ErrExternalTransferFailed, res.Err)
	case settlement.StatusPending:
		return fmt.Errorf("%w: transfer result not ready", ErrProtocolViolation)
	default:
		return fmt.Errorf("%w: unknown transfer status %q", ErrProtocolViolation, res.Status)
	}
}

// finalizeInspectionReturn releases an asset after its reward was paid. It
// does not check the inspector: the decision rests on the settlement outcome.
func (r *Registry) finalizeInspectionReturn(ctx context.Context, auth *authority, index int) error {
	if !r.authorized(auth) {
		return ErrPrivateCall
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.load(ctx, index)
	if err != nil {
		return err
	}
	if a.State.Kind != asset.KindInspection {
		return fmt.Errorf("%w: finalize asset %d from %s", ErrInvalidTransition, index, a.State.Kind)
	}

	a.State = asset.Available()
	if err := r.store.UpdateAsset(ctx, a, a.Version); err != nil {
		return err
	}
	r.coord.release(index, nil)
	return nil
}

func (r *Registry) authorized(auth *authority) bool {
	return auth != nil && auth == r.auth
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// authenticate extracts the caller from ctx and applies the rate limit.
func (r *Registry) authenticate(ctx context.Context) (asset.AccountID, error) {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return "", ErrNoCaller
	}
	if !r.limiter.Allow(string(caller), time.Now()) {
		return caller, ErrRateLimited
	}
	return caller, nil
}

// loadRecord returns the registry record, reading it from the store the
// first time it is seen.
func (r *Registry) loadRecord(ctx context.Context) (*asset.Registry, error) {
	if rec := r.record.Load(); rec != nil {
		return rec, nil
	}
	rec, err := r.store.GetRegistry(ctx)
	if errors.Is(err, ErrRegistryNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	r.record.CompareAndSwap(nil, rec)
	return rec, nil
}

// load reads asset index after checking it against the registry size.
// Callers hold r.mu.
func (r *Registry) load(ctx context.Context, index int) (*asset.Asset, error) {
	rec, err := r.loadRecord(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= rec.Size {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, rec.Size)
	}
	return r.store.GetAsset(ctx, index)
}

// reject logs a failed operation and notifies plugins when the failure was a
// validation refusal.
func (r *Registry) reject(ctx context.Context, op string, index int, caller asset.AccountID, err error) error {
	if IsRejection(err) {
		r.logger.Debug("operation rejected",
			"op", op,
			"index", index,
			"caller", caller,
			"error", err,
		)
		r.plugins.EmitOperationRejected(ctx, op, index, caller, err)
		return err
	}

	r.logger.Warn("operation failed",
		"op", op,
		"index", index,
		"caller", caller,
		"error", err,
	)
	return err
}
