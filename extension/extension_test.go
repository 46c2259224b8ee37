package extension

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	forgetesting "github.com/xraph/forge/testing"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/settlement"
)

func TestMergeWithDefaults(t *testing.T) {
	e := New()
	cfg := e.mergeWithDefaults(Config{AssetCount: intPtr(9)})

	if cfg.assetCount() != 9 {
		t.Errorf("AssetCount: got %d, want 9", cfg.assetCount())
	}
	if cfg.BasePath != "/rental" {
		t.Errorf("BasePath: got %q, want /rental", cfg.BasePath)
	}
	if cfg.RewardUnits != 15 {
		t.Errorf("RewardUnits: got %d, want 15", cfg.RewardUnits)
	}
	if cfg.SelfAccount != "bikes.testnet" {
		t.Errorf("SelfAccount: got %q, want bikes.testnet", cfg.SelfAccount)
	}
}

func TestMergeWithDefaultsKeepsZeroCount(t *testing.T) {
	e := New()

	tests := []struct {
		name string
		in   *int
		want int
	}{
		{"unset", nil, 5},
		{"explicit zero", intPtr(0), 0},
		{"explicit count", intPtr(2), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := e.mergeWithDefaults(Config{AssetCount: tt.in})
			if got := cfg.assetCount(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMergeConfigurations(t *testing.T) {
	e := New()
	yamlCfg := Config{BasePath: "/bikes", RewardUnits: 20}
	progCfg := Config{
		BasePath:       "/ignored",
		DisableMigrate: true,
		AutoInitialize: true,
		AssetCount:     intPtr(3),
		RewardUnits:    99,
		Registered:     []string{"bob.testnet"},
		JWTSecret:      "k",
	}

	cfg := e.mergeConfigurations(yamlCfg, progCfg)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"yaml base path wins", cfg.BasePath, "/bikes"},
		{"yaml reward wins", cfg.RewardUnits, int64(20)},
		{"programmatic count fills gap", cfg.assetCount(), 3},
		{"programmatic registered fills gap", strings.Join(cfg.Registered, ","), "bob.testnet"},
		{"programmatic flag", cfg.DisableMigrate, true},
		{"programmatic auto init", cfg.AutoInitialize, true},
		{"programmatic secret fills gap", cfg.JWTSecret, "k"},
		{"default token account", cfg.TokenAccount, "sub.ft_jk.testnet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestBuildRentalOpts(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"empty", Config{}, 0},
		{"accounts and reward", Config{TokenAccount: "ft", SelfAccount: "me", RewardUnits: 5}, 3},
		{"rate limit and migrate", Config{CallerRateLimit: 1, DisableMigrate: true}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(WithConfig(tt.cfg))
			if got := len(e.buildRentalOpts()); got != tt.want {
				t.Errorf("got %d options, want %d", got, tt.want)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	e := New(
		WithAutoInitialize(7),
		WithReward(30),
		WithAccounts("ft.testnet", "bikes.testnet"),
		WithBasePath("/api"),
		WithDisableRoutes(),
	)

	if !e.config.AutoInitialize || e.config.assetCount() != 7 {
		t.Errorf("auto initialize: got %v/%d", e.config.AutoInitialize, e.config.assetCount())
	}
	if e.config.RewardUnits != 30 {
		t.Errorf("reward: got %d, want 30", e.config.RewardUnits)
	}
	if e.config.TokenAccount != "ft.testnet" || e.config.SelfAccount != "bikes.testnet" {
		t.Errorf("accounts: got %q/%q", e.config.TokenAccount, e.config.SelfAccount)
	}
	if e.config.BasePath != "/api" || !e.config.DisableRoutes {
		t.Errorf("routes: got %q/%v", e.config.BasePath, e.config.DisableRoutes)
	}
}

const (
	bob   = "bob.testnet"
	carol = "carol.testnet"
)

// startExtension registers and starts e against a quiet test app.
func startExtension(t *testing.T, e *Extension) {
	t.Helper()
	ctx := context.Background()

	if err := e.Register(forgetesting.NewTestApp("rental-test", "0.0.0")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(ctx) })
}

func inspectAndReturn(t *testing.T, reg *rental.Registry, inspector asset.AccountID, index int) (settlement.Outcome, error) {
	t.Helper()
	ctx := rental.WithCaller(context.Background(), inspector)

	if err := reg.BeginInspection(ctx, index); err != nil {
		t.Fatalf("BeginInspection: %v", err)
	}
	h, err := reg.EndUseOrInspection(ctx, index)
	if err != nil {
		t.Fatalf("EndUseOrInspection: %v", err)
	}

	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := h.Wait(wctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("settlement did not resolve")
	}
	return outcome, err
}

func TestSandboxSettlesRegisteredInspector(t *testing.T) {
	ctx := context.Background()
	e := New(WithAutoInitialize(2), WithRegisteredAccounts(bob))
	startExtension(t, e)

	reg := e.Registry()
	if size, err := reg.Size(ctx); err != nil || size != 2 {
		t.Fatalf("Size: got (%d, %v), want (2, nil)", size, err)
	}

	outcome, err := inspectAndReturn(t, reg, bob, 0)
	if err != nil || outcome != settlement.OutcomeSettled {
		t.Fatalf("outcome: got (%s, %v), want (settled, nil)", outcome, err)
	}
	if ok, _ := reg.IsAvailable(ctx, 0); !ok {
		t.Error("asset 0 not released after settlement")
	}

	bal, err := e.Tokens().BalanceOf(ctx, bob)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if bal.String() != "15" {
		t.Errorf("bob balance: got %s, want 15", bal)
	}
}

func TestSandboxHoldsUnregisteredInspector(t *testing.T) {
	ctx := context.Background()
	e := New(WithAutoInitialize(1), WithRegisteredAccounts(bob))
	startExtension(t, e)

	outcome, err := inspectAndReturn(t, e.Registry(), carol, 0)
	if outcome != settlement.OutcomeHeld || !errors.Is(err, rental.ErrExternalTransferFailed) {
		t.Fatalf("outcome: got (%s, %v), want (held, %v)", outcome, err, rental.ErrExternalTransferFailed)
	}

	inspector, ok, err := e.Registry().CurrentInspector(ctx, 0)
	if err != nil || !ok || inspector != carol {
		t.Errorf("CurrentInspector: got (%q, %v, %v), want (%q, true, nil)", inspector, ok, err, carol)
	}
}

func TestAutoInitializeEmptyRegistry(t *testing.T) {
	e := New(WithAutoInitialize(0))
	startExtension(t, e)

	size, err := e.Registry().Size(context.Background())
	if err != nil || size != 0 {
		t.Fatalf("Size: got (%d, %v), want (0, nil)", size, err)
	}
}

func TestHandlerMountedUnderBasePath(t *testing.T) {
	e := New(WithAutoInitialize(3))
	startExtension(t, e)

	if e.Handler() == nil {
		t.Fatal("expected a handler")
	}

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rental/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"size":3`) {
		t.Errorf("healthz body: %s", rec.Body.String())
	}
}
