package extension

// Config holds the Rental extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.rental" or "rental" keys).
type Config struct {
	// DisableRoutes prevents building the HTTP handler.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for rental routes (default: "/rental").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// AutoInitialize creates AssetCount assets on start when the store has
	// no registry record yet.
	AutoInitialize bool `json:"auto_initialize" mapstructure:"auto_initialize" yaml:"auto_initialize"`

	// AssetCount is the registry size used by AutoInitialize (default: 5).
	// An explicit zero creates an empty registry.
	AssetCount *int `json:"asset_count" mapstructure:"asset_count" yaml:"asset_count"`

	// TokenAccount is the token contract rewards are paid from
	// (default: rental.DefaultTokenAccount).
	TokenAccount string `json:"token_account" mapstructure:"token_account" yaml:"token_account"`

	// SelfAccount is the account the registry transfers from
	// (default: "bikes.testnet").
	SelfAccount string `json:"self_account" mapstructure:"self_account" yaml:"self_account"`

	// RewardUnits is the amount paid per completed inspection (default: 15).
	RewardUnits int64 `json:"reward_units" mapstructure:"reward_units" yaml:"reward_units"`

	// CallerRateLimit caps mutating calls per caller per second. Zero
	// disables the limit.
	CallerRateLimit float64 `json:"caller_rate_limit" mapstructure:"caller_rate_limit" yaml:"caller_rate_limit"`

	// CallerBurst is the per-caller burst when CallerRateLimit is set
	// (default: 5).
	CallerBurst int `json:"caller_burst" mapstructure:"caller_burst" yaml:"caller_burst"`

	// Registered lists the accounts registered on the sandbox ledger used
	// when no token service is supplied. Inspectors not listed here cannot
	// be paid.
	Registered []string `json:"registered" mapstructure:"registered" yaml:"registered"`

	// JWTSecret enables HS256 bearer authentication on the HTTP handler.
	JWTSecret string `json:"jwt_secret" mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:     "/rental",
		AssetCount:   intPtr(5),
		TokenAccount: "sub.ft_jk.testnet",
		SelfAccount:  "bikes.testnet",
		RewardUnits:  15,
		CallerBurst:  5,
	}
}

// assetCount returns the configured registry size, or the default when unset.
func (c Config) assetCount() int {
	if c.AssetCount == nil {
		return *DefaultConfig().AssetCount
	}
	return *c.AssetCount
}

func intPtr(n int) *int { return &n }
