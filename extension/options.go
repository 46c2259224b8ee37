package extension

import (
	"github.com/xraph/rental"
	"github.com/xraph/rental/plugin"
	"github.com/xraph/rental/store"
	"github.com/xraph/rental/token"
)

// Option configures the Rental Forge extension.
type Option func(*Extension)

// WithStore sets the store for the registry.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithTokenService sets the token service rewards are paid through.
func WithTokenService(ts token.Service) Option {
	return func(e *Extension) {
		e.tokens = ts
	}
}

// WithRentalOption passes a rental.Option through to the underlying registry.
func WithRentalOption(opt rental.Option) Option {
	return func(e *Extension) {
		e.rentalOpts = append(e.rentalOpts, opt)
	}
}

// WithPlugin registers a rental plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.rentalOpts = append(e.rentalOpts, rental.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents building the HTTP handler.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for rental routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithAutoInitialize creates count assets on start if the registry is empty.
func WithAutoInitialize(count int) Option {
	return func(e *Extension) {
		e.config.AutoInitialize = true
		e.config.AssetCount = intPtr(count)
	}
}

// WithReward sets the amount paid per completed inspection.
func WithReward(units int64) Option {
	return func(e *Extension) { e.config.RewardUnits = units }
}

// WithAccounts sets the token contract and the registry's own account.
func WithAccounts(tokenAccount, selfAccount string) Option {
	return func(e *Extension) {
		e.config.TokenAccount = tokenAccount
		e.config.SelfAccount = selfAccount
	}
}

// WithRegisteredAccounts registers accounts on the sandbox ledger so they can
// receive inspection rewards. It has no effect when a token service is set
// with WithTokenService.
func WithRegisteredAccounts(accounts ...string) Option {
	return func(e *Extension) {
		e.config.Registered = append(e.config.Registered, accounts...)
	}
}
