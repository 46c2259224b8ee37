// Package extension provides the Forge extension adapter for Rental.
//
// It implements the forge.Extension interface to integrate the asset registry
// into a Forge application with DI registration, lifecycle management and an
// optional HTTP handler.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.rental" or "rental" keys.
package extension

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/internal/httpapi"
	"github.com/xraph/rental/store"
	"github.com/xraph/rental/store/memory"
	"github.com/xraph/rental/token"
	tokenmem "github.com/xraph/rental/token/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "rental"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Asset rental registry with token reward settlement"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// sandboxSupply is the token supply of the in-memory ledger used when no
// token service is configured.
const sandboxSupply = 1000

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Rental as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	registry   *rental.Registry
	store      store.Store
	tokens     token.Service
	handler    http.Handler
	rentalOpts []rental.Option
}

// New creates a new Rental Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the underlying asset registry.
// This is nil until Register is called.
func (e *Extension) Registry() *rental.Registry { return e.registry }

// Tokens returns the token service rewards are paid through.
func (e *Extension) Tokens() token.Service { return e.tokens }

// Handler returns the HTTP API mounted under the configured base path, or
// nil when routes are disabled.
func (e *Extension) Handler() http.Handler { return e.handler }

// Register implements [forge.Extension]. It loads configuration,
// builds the registry, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}
	// Without a token service, rewards come from a sandbox ledger whose
	// supply belongs to the registry account.
	if e.tokens == nil {
		ledger := tokenmem.New(
			asset.AccountID(e.config.TokenAccount),
			asset.AccountID(e.config.SelfAccount),
			decimal.NewFromInt(sandboxSupply),
		)
		for _, acct := range e.config.Registered {
			ledger.Register(asset.AccountID(acct))
		}
		e.tokens = ledger
	} else if len(e.config.Registered) > 0 {
		e.Logger().Warn("rental: registered accounts ignored with an external token service",
			forge.F("count", len(e.config.Registered)),
		)
	}

	e.registry = rental.New(e.store, e.tokens, e.buildRentalOpts()...)

	if !e.config.DisableRoutes {
		var apiOpts []httpapi.Option
		if e.config.JWTSecret != "" {
			apiOpts = append(apiOpts, httpapi.WithJWTSecret([]byte(e.config.JWTSecret)))
		}
		api := httpapi.New(e.registry, e.tokens, apiOpts...)
		e.handler = http.StripPrefix(strings.TrimSuffix(e.config.BasePath, "/"), api)
	}

	return vessel.Provide(fapp.Container(), func() (*rental.Registry, error) {
		return e.registry, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.registry == nil {
		return errors.New("rental: extension not initialized")
	}

	if err := e.registry.Start(ctx); err != nil {
		return err
	}

	if e.config.AutoInitialize {
		if err := e.autoInitialize(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// autoInitialize creates the configured assets unless a registry record
// already exists.
func (e *Extension) autoInitialize(ctx context.Context) error {
	_, err := e.registry.Size(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, rental.ErrNotInitialized) {
		return err
	}
	count := e.config.assetCount()
	if err := e.registry.Initialize(ctx, count); err != nil && !errors.Is(err, rental.ErrAlreadyInitialized) {
		return err
	}
	e.Logger().Info("rental: registry initialized",
		forge.F("asset_count", count),
	)
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.registry != nil {
		if err := e.registry.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("rental: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildRentalOpts constructs rental.Option values from the resolved config.
func (e *Extension) buildRentalOpts() []rental.Option {
	opts := make([]rental.Option, 0, len(e.rentalOpts)+5)

	// Apply config-derived options.
	if e.config.TokenAccount != "" {
		opts = append(opts, rental.WithTokenAccount(asset.AccountID(e.config.TokenAccount)))
	}
	if e.config.SelfAccount != "" {
		opts = append(opts, rental.WithSelfAccount(asset.AccountID(e.config.SelfAccount)))
	}
	if e.config.RewardUnits > 0 {
		opts = append(opts, rental.WithReward(e.config.RewardUnits))
	}
	if e.config.CallerRateLimit > 0 {
		opts = append(opts, rental.WithCallerRateLimit(e.config.CallerRateLimit, e.config.CallerBurst))
	}
	if e.config.DisableMigrate {
		opts = append(opts, rental.WithoutMigrate())
	}

	// Append any pass-through rental options.
	opts = append(opts, e.rentalOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("rental: configuration is required but not found in config files; " +
				"ensure 'extensions.rental' or 'rental' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("rental: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("auto_initialize", e.config.AutoInitialize),
		forge.F("asset_count", e.config.assetCount()),
		forge.F("registered", len(e.config.Registered)),
		forge.F("token_account", e.config.TokenAccount),
		forge.F("reward_units", e.config.RewardUnits),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.rental" first (namespaced pattern).
	if cm.IsSet("extensions.rental") {
		if err := cm.Bind("extensions.rental", &cfg); err == nil {
			e.Logger().Debug("rental: loaded config from file",
				forge.F("key", "extensions.rental"),
			)
			return cfg, true
		}
		e.Logger().Warn("rental: failed to bind extensions.rental config",
			forge.F("error", "bind failed"),
		)
	}

	// Try short "rental" key.
	if cm.IsSet("rental") {
		if err := cm.Bind("rental", &cfg); err == nil {
			e.Logger().Debug("rental: loaded config from file",
				forge.F("key", "rental"),
			)
			return cfg, true
		}
		e.Logger().Warn("rental: failed to bind rental config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.AssetCount == nil {
		cfg.AssetCount = defaults.AssetCount
	}
	if cfg.TokenAccount == "" {
		cfg.TokenAccount = defaults.TokenAccount
	}
	if cfg.SelfAccount == "" {
		cfg.SelfAccount = defaults.SelfAccount
	}
	if cfg.RewardUnits == 0 {
		cfg.RewardUnits = defaults.RewardUnits
	}
	if cfg.CallerBurst == 0 {
		cfg.CallerBurst = defaults.CallerBurst
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.AutoInitialize {
		yamlConfig.AutoInitialize = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.TokenAccount == "" && programmaticConfig.TokenAccount != "" {
		yamlConfig.TokenAccount = programmaticConfig.TokenAccount
	}
	if yamlConfig.SelfAccount == "" && programmaticConfig.SelfAccount != "" {
		yamlConfig.SelfAccount = programmaticConfig.SelfAccount
	}
	if yamlConfig.JWTSecret == "" && programmaticConfig.JWTSecret != "" {
		yamlConfig.JWTSecret = programmaticConfig.JWTSecret
	}

	// Numeric fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.AssetCount == nil && programmaticConfig.AssetCount != nil {
		yamlConfig.AssetCount = programmaticConfig.AssetCount
	}
	if len(yamlConfig.Registered) == 0 && len(programmaticConfig.Registered) > 0 {
		yamlConfig.Registered = programmaticConfig.Registered
	}
	if yamlConfig.RewardUnits == 0 && programmaticConfig.RewardUnits != 0 {
		yamlConfig.RewardUnits = programmaticConfig.RewardUnits
	}
	if yamlConfig.CallerRateLimit == 0 && programmaticConfig.CallerRateLimit != 0 {
		yamlConfig.CallerRateLimit = programmaticConfig.CallerRateLimit
	}
	if yamlConfig.CallerBurst == 0 && programmaticConfig.CallerBurst != 0 {
		yamlConfig.CallerBurst = programmaticConfig.CallerBurst
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
