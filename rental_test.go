package rental_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/settlement"
	"github.com/xraph/rental/store/memory"
	"github.com/xraph/rental/token"
	tokenmem "github.com/xraph/rental/token/memory"
)

const (
	ftContract  asset.AccountID = "sub.ft_jk.testnet"
	bikeAccount asset.AccountID = "bikes.testnet"
	ownerAcct   asset.AccountID = "owner.testnet"
	alice       asset.AccountID = "alice.testnet"
	bob         asset.AccountID = "bob.testnet"
	carol       asset.AccountID = "carol.testnet"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// gatedTokens holds every transfer until the test releases it.
type gatedTokens struct {
	inner   token.Service
	release chan error
	started chan token.TransferCall

	mu    sync.Mutex
	calls []token.TransferCall
}

func newGatedTokens(inner token.Service) *gatedTokens {
	return &gatedTokens{
		inner:   inner,
		release: make(chan error),
		started: make(chan token.TransferCall, 16),
	}
}

func (g *gatedTokens) Transfer(ctx context.Context, call token.TransferCall) error {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
	g.started <- call

	select {
	case err := <-g.release:
		if err != nil {
			return err
		}
		return g.inner.Transfer(ctx, call)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedTokens) BalanceOf(ctx context.Context, account asset.AccountID) (decimal.Decimal, error) {
	return g.inner.BalanceOf(ctx, account)
}

func (g *gatedTokens) Calls() []token.TransferCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]token.TransferCall, len(g.calls))
	copy(out, g.calls)
	return out
}

type fixture struct {
	reg    *rental.Registry
	store  *memory.Store
	ledger *tokenmem.Ledger
	tokens *gatedTokens
}

// newFixture mirrors the sandbox setup: the owner funds the registry account
// with 50 tokens and bob is registered on the token contract.
func newFixture(t *testing.T, count int, opts ...rental.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	ledger := tokenmem.New(ftContract, ownerAcct, decimal.NewFromInt(1000), tokenmem.WithLogger(quiet))
	if err := ledger.Fund(ctx, bikeAccount, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("fund registry account: %v", err)
	}
	ledger.Register(bob)

	gated := newGatedTokens(ledger)
	s := memory.New()

	base := []rental.Option{
		rental.WithLogger(quiet),
		rental.WithTokenAccount(ftContract),
		rental.WithSelfAccount(bikeAccount),
	}
	reg := rental.New(s, gated, append(base, opts...)...)

	if err := reg.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if count >= 0 {
		if err := reg.Initialize(ctx, count); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	t.Cleanup(func() {
		close(gated.release)
		_ = reg.Stop()
	})

	return &fixture{reg: reg, store: s, ledger: ledger, tokens: gated}
}

func as(caller asset.AccountID) context.Context {
	return rental.WithCaller(context.Background(), caller)
}

func (f *fixture) state(t *testing.T, index int) asset.State {
	t.Helper()
	a, err := f.reg.Asset(context.Background(), index)
	if err != nil {
		t.Fatalf("Asset(%d): %v", index, err)
	}
	return a.State
}

func (f *fixture) awaitDispatch(t *testing.T) token.TransferCall {
	t.Helper()
	select {
	case call := <-f.tokens.started:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("no transfer dispatched")
		return token.TransferCall{}
	}
}

func wait(t *testing.T, h *settlement.Handle) (settlement.Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("settlement did not resolve")
	}
	return outcome, err
}

// ──────────────────────────────────────────────────
// Initialization
// ──────────────────────────────────────────────────

func TestFreshRegistry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	size, err := f.reg.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 5 {
		t.Errorf("Size: got %d, want 5", size)
	}

	for i := 0; i < size; i++ {
		ok, err := f.reg.IsAvailable(ctx, i)
		if err != nil {
			t.Fatalf("IsAvailable(%d): %v", i, err)
		}
		if !ok {
			t.Errorf("asset %d should be available", i)
		}
		if _, ok, _ := f.reg.CurrentHolder(ctx, i); ok {
			t.Errorf("asset %d should have no holder", i)
		}
		if _, ok, _ := f.reg.CurrentInspector(ctx, i); ok {
			t.Errorf("asset %d should have no inspector", i)
		}
	}
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("before initialize", func(t *testing.T) {
		f := newFixture(t, -1)
		if _, err := f.reg.Size(ctx); !errors.Is(err, rental.ErrNotInitialized) {
			t.Errorf("Size: got %v, want %v", err, rental.ErrNotInitialized)
		}
		if err := f.reg.BeginUse(as(alice), 0); !errors.Is(err, rental.ErrNotInitialized) {
			t.Errorf("BeginUse: got %v, want %v", err, rental.ErrNotInitialized)
		}
	})

	t.Run("zero assets", func(t *testing.T) {
		f := newFixture(t, 0)
		size, err := f.reg.Size(ctx)
		if err != nil || size != 0 {
			t.Errorf("Size: got (%d, %v), want (0, nil)", size, err)
		}
		if err := f.reg.BeginUse(as(alice), 0); !errors.Is(err, rental.ErrIndexOutOfRange) {
			t.Errorf("BeginUse on empty registry: got %v, want %v", err, rental.ErrIndexOutOfRange)
		}
	})

	t.Run("negative count", func(t *testing.T) {
		f := newFixture(t, -1)
		err := f.reg.Initialize(ctx, -3)
		if !errors.Is(err, rental.ErrInvalidInput) {
			t.Errorf("got %v, want %v", err, rental.ErrInvalidInput)
		}
		var verr rental.ValidationError
		if !errors.As(err, &verr) || verr.Field != "count" {
			t.Errorf("expected ValidationError on count, got %v", err)
		}
	})

	t.Run("twice", func(t *testing.T) {
		f := newFixture(t, 2)
		if err := f.reg.Initialize(ctx, 4); !errors.Is(err, rental.ErrAlreadyInitialized) {
			t.Errorf("got %v, want %v", err, rental.ErrAlreadyInitialized)
		}
		if size, _ := f.reg.Size(ctx); size != 2 {
			t.Errorf("Size after second Initialize: got %d, want 2", size)
		}
	})
}

func TestRestartKeepsRecord(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	first := rental.New(s, newGatedTokens(nil), rental.WithLogger(quiet))
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := first.Initialize(ctx, 3); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	second := rental.New(s, newGatedTokens(nil), rental.WithLogger(quiet))
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if size, err := second.Size(ctx); err != nil || size != 3 {
		t.Errorf("Size: got (%d, %v), want (3, nil)", size, err)
	}
	if err := second.Initialize(ctx, 3); !errors.Is(err, rental.ErrAlreadyInitialized) {
		t.Errorf("Initialize: got %v, want %v", err, rental.ErrAlreadyInitialized)
	}
}

func TestStartValidatesConfig(t *testing.T) {
	reg := rental.New(memory.New(), newGatedTokens(nil), rental.WithLogger(quiet), rental.WithReward(0))
	if err := reg.Start(context.Background()); !errors.Is(err, rental.ErrInvalidInput) {
		t.Errorf("Start with zero reward: got %v, want %v", err, rental.ErrInvalidInput)
	}
}

// ──────────────────────────────────────────────────
// Rejections
// ──────────────────────────────────────────────────

func TestIndexOutOfRange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	tests := []struct {
		name string
		call func() error
	}{
		{"BeginUse", func() error { return f.reg.BeginUse(as(alice), 7) }},
		{"BeginInspection", func() error { return f.reg.BeginInspection(as(alice), 7) }},
		{"End", func() error { _, err := f.reg.EndUseOrInspection(as(alice), 7); return err }},
		{"IsAvailable", func() error { _, err := f.reg.IsAvailable(ctx, 7); return err }},
		{"CurrentHolder", func() error { _, _, err := f.reg.CurrentHolder(ctx, 7); return err }},
		{"CurrentInspector", func() error { _, _, err := f.reg.CurrentInspector(ctx, 7); return err }},
		{"Negative", func() error { return f.reg.BeginUse(as(alice), -1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, rental.ErrIndexOutOfRange) {
				t.Errorf("got %v, want %v", err, rental.ErrIndexOutOfRange)
			}
		})
	}

	for i := 0; i < 5; i++ {
		if s := f.state(t, i); !s.IsAvailable() {
			t.Errorf("asset %d changed to %v", i, s)
		}
	}
	if n := len(f.tokens.Calls()); n != 0 {
		t.Errorf("transfers: got %d, want 0", n)
	}
}

func TestBeginOnNonAvailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fixture) error
		begin func(*fixture) error
		want  asset.State
	}{
		{
			"use while in use",
			func(f *fixture) error { return f.reg.BeginUse(as(alice), 0) },
			func(f *fixture) error { return f.reg.BeginUse(as(bob), 0) },
			asset.InUse(alice),
		},
		{
			"inspect while in use",
			func(f *fixture) error { return f.reg.BeginUse(as(alice), 0) },
			func(f *fixture) error { return f.reg.BeginInspection(as(bob), 0) },
			asset.InUse(alice),
		},
		{
			"use while inspected",
			func(f *fixture) error { return f.reg.BeginInspection(as(bob), 0) },
			func(f *fixture) error { return f.reg.BeginUse(as(alice), 0) },
			asset.Inspection(bob),
		},
		{
			"holder begins again",
			func(f *fixture) error { return f.reg.BeginInspection(as(bob), 0) },
			func(f *fixture) error { return f.reg.BeginInspection(as(bob), 0) },
			asset.Inspection(bob),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			if err := tt.setup(f); err != nil {
				t.Fatalf("setup: %v", err)
			}
			if err := tt.begin(f); !errors.Is(err, rental.ErrNotAvailable) {
				t.Fatalf("got %v, want %v", err, rental.ErrNotAvailable)
			}
			if got := f.state(t, 0); got != tt.want {
				t.Errorf("state: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNoCaller(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	if err := f.reg.BeginUse(ctx, 0); !errors.Is(err, rental.ErrNoCaller) {
		t.Errorf("BeginUse: got %v, want %v", err, rental.ErrNoCaller)
	}
	if _, err := f.reg.EndUseOrInspection(rental.WithCaller(ctx, ""), 0); !errors.Is(err, rental.ErrNoCaller) {
		t.Errorf("End with blank caller: got %v, want %v", err, rental.ErrNoCaller)
	}
}

func TestEndAvailable(t *testing.T) {
	f := newFixture(t, 1)
	if _, err := f.reg.EndUseOrInspection(as(alice), 0); !errors.Is(err, rental.ErrAlreadyAvailable) {
		t.Errorf("got %v, want %v", err, rental.ErrAlreadyAvailable)
	}
}

// ──────────────────────────────────────────────────
// Use lifecycle
// ──────────────────────────────────────────────────

func TestUseLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	if err := f.reg.BeginUse(as(alice), 1); err != nil {
		t.Fatalf("BeginUse: %v", err)
	}

	holder, ok, err := f.reg.CurrentHolder(ctx, 1)
	if err != nil || !ok || holder != alice {
		t.Errorf("CurrentHolder: got (%q, %v, %v), want (%q, true, nil)", holder, ok, err, alice)
	}
	if avail, _ := f.reg.IsAvailable(ctx, 1); avail {
		t.Error("asset 1 should not be available")
	}
	if _, ok, _ := f.reg.CurrentInspector(ctx, 1); ok {
		t.Error("an asset in use has no inspector")
	}

	if _, err := f.reg.EndUseOrInspection(as(bob), 1); !errors.Is(err, rental.ErrUnauthorized) {
		t.Fatalf("End by bob: got %v, want %v", err, rental.ErrUnauthorized)
	}
	if got := f.state(t, 1); got != asset.InUse(alice) {
		t.Errorf("state after unauthorized end: got %v, want %v", got, asset.InUse(alice))
	}

	h, err := f.reg.EndUseOrInspection(as(alice), 1)
	if err != nil {
		t.Fatalf("End by alice: %v", err)
	}
	if h != nil {
		t.Error("ending a ride must not start a settlement")
	}
	if got := f.state(t, 1); !got.IsAvailable() {
		t.Errorf("state after end: got %v, want available", got)
	}
	if n := len(f.tokens.Calls()); n != 0 {
		t.Errorf("transfers: got %d, want 0", n)
	}
}

// ──────────────────────────────────────────────────
// Inspection settlement
// ──────────────────────────────────────────────────

func TestInspectionReturnSettles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	before, _ := f.ledger.BalanceOf(ctx, bob)
	if !before.IsZero() {
		t.Fatalf("bob starts with %s, want 0", before)
	}

	if err := f.reg.BeginInspection(as(bob), 0); err != nil {
		t.Fatalf("BeginInspection: %v", err)
	}
	inspector, ok, _ := f.reg.CurrentInspector(ctx, 0)
	if !ok || inspector != bob {
		t.Errorf("CurrentInspector: got (%q, %v), want (%q, true)", inspector, ok, bob)
	}

	h, err := f.reg.EndUseOrInspection(as(bob), 0)
	if err != nil {
		t.Fatalf("EndUseOrInspection: %v", err)
	}
	if h == nil {
		t.Fatal("expected a settlement handle")
	}

	call := f.awaitDispatch(t)

	// In flight: nothing released yet.
	if got := f.state(t, 0); got != asset.Inspection(bob) {
		t.Errorf("state while pending: got %v, want %v", got, asset.Inspection(bob))
	}
	if h.Resolved() {
		t.Error("handle resolved before the transfer answered")
	}
	if out := f.reg.Outstanding(); len(out) != 1 || out[0] != h {
		t.Errorf("Outstanding: got %v, want [%s]", out, h.ID)
	}

	if call.Contract != ftContract || call.Sender != bikeAccount || call.Receiver != bob {
		t.Errorf("transfer routing: got %+v", call)
	}
	if call.Amount != "15" || call.Memo != nil || !call.Deposit.Equal(token.OneUnit) {
		t.Errorf("transfer payload: amount=%s memo=%v deposit=%s", call.Amount, call.Memo, call.Deposit)
	}

	f.tokens.release <- nil
	outcome, err := wait(t, h)
	if err != nil || outcome != settlement.OutcomeSettled {
		t.Fatalf("outcome: got (%s, %v), want (settled, nil)", outcome, err)
	}

	if got := f.state(t, 0); !got.IsAvailable() {
		t.Errorf("asset 0 after settlement: got %v, want available", got)
	}
	for i := 1; i < 5; i++ {
		if got := f.state(t, i); !got.IsAvailable() {
			t.Errorf("asset %d touched: %v", i, got)
		}
	}

	after, _ := f.ledger.BalanceOf(ctx, bob)
	if !after.Sub(before).Equal(decimal.NewFromInt(15)) {
		t.Errorf("bob balance: got %s, want %s + 15", after, before)
	}
	if n := len(f.tokens.Calls()); n != 1 {
		t.Errorf("transfers: got %d, want exactly 1", n)
	}
	if out := f.reg.Outstanding(); len(out) != 0 {
		t.Errorf("Outstanding after settle: got %d, want 0", len(out))
	}
}

func TestInspectionReturnTransferFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	if err := f.reg.BeginInspection(as(bob), 1); err != nil {
		t.Fatalf("BeginInspection: %v", err)
	}
	h, err := f.reg.EndUseOrInspection(as(bob), 1)
	if err != nil {
		t.Fatalf("EndUseOrInspection: %v", err)
	}
	f.awaitDispatch(t)

	outage := errors.New("token service unavailable")
	f.tokens.release <- outage

	outcome, err := wait(t, h)
	if outcome != settlement.OutcomeHeld {
		t.Errorf("outcome: got %s, want %s", outcome, settlement.OutcomeHeld)
	}
	if !errors.Is(err, rental.ErrExternalTransferFailed) || !errors.Is(err, outage) {
		t.Errorf("err: got %v, want ErrExternalTransferFailed wrapping the outage", err)
	}
	if !rental.IsSettlementError(err) {
		t.Error("IsSettlementError should hold")
	}

	if got := f.state(t, 1); got != asset.Inspection(bob) {
		t.Errorf("state after failure: got %v, want %v", got, asset.Inspection(bob))
	}
	if bal, _ := f.ledger.BalanceOf(ctx, bob); !bal.IsZero() {
		t.Errorf("bob was paid %s on a failed transfer", bal)
	}
	if err := f.reg.BeginUse(as(alice), 1); !errors.Is(err, rental.ErrNotAvailable) {
		t.Errorf("held asset must stay unavailable: got %v", err)
	}
}

func TestInspectionReturnByOtherCaller(t *testing.T) {
	f := newFixture(t, 5)

	if err := f.reg.BeginInspection(as(bob), 0); err != nil {
		t.Fatalf("BeginInspection: %v", err)
	}
	h, err := f.reg.EndUseOrInspection(as(carol), 0)
	if !errors.Is(err, rental.ErrUnauthorized) {
		t.Fatalf("got %v, want %v", err, rental.ErrUnauthorized)
	}
	if h != nil {
		t.Error("rejected return must not produce a handle")
	}
	if got := f.state(t, 0); got != asset.Inspection(bob) {
		t.Errorf("state: got %v, want %v", got, asset.Inspection(bob))
	}
	if n := len(f.tokens.Calls()); n != 0 {
		t.Errorf("transfers: got %d, want 0", n)
	}
}

func TestSecondReturnWhileOutstanding(t *testing.T) {
	f := newFixture(t, 1)

	if err := f.reg.BeginInspection(as(bob), 0); err != nil {
		t.Fatalf("BeginInspection: %v", err)
	}
	h, err := f.reg.EndUseOrInspection(as(bob), 0)
	if err != nil {
		t.Fatalf("first return: %v", err)
	}
	f.awaitDispatch(t)

	if _, err := f.reg.EndUseOrInspection(as(bob), 0); !errors.Is(err, rental.ErrInvalidTransition) {
		t.Fatalf("second return: got %v, want %v", err, rental.ErrInvalidTransition)
	}

	f.tokens.release <- nil
	if outcome, _ := wait(t, h); outcome != settlement.OutcomeSettled {
		t.Errorf("outcome: got %s, want settled", outcome)
	}
	if n := len(f.tokens.Calls()); n != 1 {
		t.Errorf("transfers: got %d, want 1", n)
	}
}

func TestReturnAfterHeldSettlementRedispatches(t *testing.T) {
	f := newFixture(t, 1)

	if err := f.reg.BeginInspection(as(bob), 0); err != nil {
		t.Fatalf("BeginInspection: %v", err)
	}
	h, _ := f.reg.EndUseOrInspection(as(bob), 0)
	f.awaitDispatch(t)
	f.tokens.release <- errors.New("declined")
	if outcome, _ := wait(t, h); outcome != settlement.OutcomeHeld {
		t.Fatalf("outcome: got %s, want held", outcome)
	}

	h2, err := f.reg.EndUseOrInspection(as(bob), 0)
	if err != nil {
		t.Fatalf("second return: %v", err)
	}
	f.awaitDispatch(t)
	f.tokens.release <- nil
	if outcome, _ := wait(t, h2); outcome != settlement.OutcomeSettled {
		t.Errorf("outcome: got %s, want settled", outcome)
	}
	if got := f.state(t, 0); !got.IsAvailable() {
		t.Errorf("state: got %v, want available", got)
	}
}

func TestCallerCancellationDoesNotAbortSettlement(t *testing.T) {
	f := newFixture(t, 1)

	if err := f.reg.BeginInspection(as(bob), 0); err != nil {
		t.Fatalf("BeginInspection: %v", err)
	}

	ctx, cancel := context.WithCancel(as(bob))
	h, err := f.reg.EndUseOrInspection(ctx, 0)
	if err != nil {
		t.Fatalf("EndUseOrInspection: %v", err)
	}
	f.awaitDispatch(t)
	cancel()

	f.tokens.release <- nil
	if outcome, err := wait(t, h); outcome != settlement.OutcomeSettled {
		t.Errorf("outcome: got (%s, %v), want settled", outcome, err)
	}
}

func TestStopFailsOutstandingSettlement(t *testing.T) {
	ctx := context.Background()
	ledger := tokenmem.New(ftContract, ownerAcct, decimal.NewFromInt(100), tokenmem.WithLogger(quiet))
	gated := newGatedTokens(ledger)
	reg := rental.New(memory.New(), gated, rental.WithLogger(quiet))

	if err := reg.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := reg.Initialize(ctx, 1); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := reg.BeginInspection(as(bob), 0); err != nil {
		t.Fatalf("BeginInspection: %v", err)
	}
	h, err := reg.EndUseOrInspection(as(bob), 0)
	if err != nil {
		t.Fatalf("EndUseOrInspection: %v", err)
	}
	<-gated.started

	if err := reg.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if !h.Resolved() {
		t.Fatal("Stop must wait for outstanding continuations")
	}
	if h.Outcome() != settlement.OutcomeHeld {
		t.Errorf("outcome: got %s, want held", h.Outcome())
	}
	if !errors.Is(h.Err(), context.Canceled) {
		t.Errorf("err: got %v, want context.Canceled", h.Err())
	}
}

// ──────────────────────────────────────────────────
// Privileged continuation
// ──────────────────────────────────────────────────

func TestContinuationContract(t *testing.T) {
	ctx := context.Background()
	ok := []settlement.Result{{Status: settlement.StatusSuccessful}}

	tests := []struct {
		name    string
		run     func(*rental.Registry) error
		wantErr error
		want    asset.State
	}{
		{
			"forged authority",
			func(r *rental.Registry) error { return rental.ResumeSettlementForged(ctx, r, 0, ok) },
			rental.ErrPrivateCall,
			asset.Inspection(bob),
		},
		{
			"direct finalize",
			func(r *rental.Registry) error { return rental.FinalizeWithoutAuthority(ctx, r, 0) },
			rental.ErrPrivateCall,
			asset.Inspection(bob),
		},
		{
			"no result",
			func(r *rental.Registry) error { return rental.ResumeSettlement(ctx, r, 0, nil) },
			rental.ErrProtocolViolation,
			asset.Inspection(bob),
		},
		{
			"two results",
			func(r *rental.Registry) error { return rental.ResumeSettlement(ctx, r, 0, append(ok, ok...)) },
			rental.ErrProtocolViolation,
			asset.Inspection(bob),
		},
		{
			"pending result",
			func(r *rental.Registry) error {
				return rental.ResumeSettlement(ctx, r, 0, []settlement.Result{{Status: settlement.StatusPending}})
			},
			rental.ErrProtocolViolation,
			asset.Inspection(bob),
		},
		{
			"failed result",
			func(r *rental.Registry) error {
				return rental.ResumeSettlement(ctx, r, 0, []settlement.Result{{Status: settlement.StatusFailed}})
			},
			rental.ErrExternalTransferFailed,
			asset.Inspection(bob),
		},
		{
			"successful result",
			func(r *rental.Registry) error { return rental.ResumeSettlement(ctx, r, 0, ok) },
			nil,
			asset.Available(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			if err := f.reg.BeginInspection(as(bob), 0); err != nil {
				t.Fatalf("BeginInspection: %v", err)
			}

			err := tt.run(f.reg)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if got := f.state(t, 0); got != tt.want {
				t.Errorf("state: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFinalizeRequiresInspection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	ok := []settlement.Result{{Status: settlement.StatusSuccessful}}
	if err := rental.ResumeSettlement(ctx, f.reg, 0, ok); !errors.Is(err, rental.ErrInvalidTransition) {
		t.Errorf("finalize on available asset: got %v, want %v", err, rental.ErrInvalidTransition)
	}

	if err := f.reg.BeginUse(as(alice), 0); err != nil {
		t.Fatalf("BeginUse: %v", err)
	}
	if err := rental.ResumeSettlement(ctx, f.reg, 0, ok); !errors.Is(err, rental.ErrInvalidTransition) {
		t.Errorf("finalize on ridden asset: got %v, want %v", err, rental.ErrInvalidTransition)
	}
	if got := f.state(t, 0); got != asset.InUse(alice) {
		t.Errorf("state: got %v, want %v", got, asset.InUse(alice))
	}
}

func TestFinalizeClearsOutstandingUnderLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	if err := f.reg.BeginInspection(as(bob), 0); err != nil {
		t.Fatalf("BeginInspection: %v", err)
	}
	first, err := f.reg.EndUseOrInspection(as(bob), 0)
	if err != nil {
		t.Fatalf("EndUseOrInspection: %v", err)
	}
	f.awaitDispatch(t)

	// The continuation commits while its transfer goroutine has not finished.
	ok := []settlement.Result{{Status: settlement.StatusSuccessful}}
	if err := rental.ResumeSettlement(ctx, f.reg, 0, ok); err != nil {
		t.Fatalf("ResumeSettlement: %v", err)
	}
	if got := f.state(t, 0); !got.IsAvailable() {
		t.Fatalf("state after finalize: got %v, want available", got)
	}
	if out := f.reg.Outstanding(); len(out) != 0 {
		t.Fatalf("Outstanding after finalize: got %d, want 0", len(out))
	}

	if err := f.reg.BeginInspection(as(bob), 0); err != nil {
		t.Fatalf("second BeginInspection: %v", err)
	}
	second, err := f.reg.EndUseOrInspection(as(bob), 0)
	if err != nil {
		t.Fatalf("second EndUseOrInspection: %v", err)
	}
	f.awaitDispatch(t)

	if second == first {
		t.Fatal("second return reused the first handle")
	}
	if out := f.reg.Outstanding(); len(out) != 1 || out[0] != second {
		t.Errorf("Outstanding: got %v, want [%s]", out, second.ID)
	}
}

// ──────────────────────────────────────────────────
// Concurrency, listing, rate limiting
// ──────────────────────────────────────────────────

func TestConcurrentBeginUseHasOneWinner(t *testing.T) {
	f := newFixture(t, 1)

	callers := []asset.AccountID{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7"}
	errs := make(chan error, len(callers))

	var wg sync.WaitGroup
	for _, c := range callers {
		wg.Add(1)
		go func(c asset.AccountID) {
			defer wg.Done()
			errs <- f.reg.BeginUse(as(c), 0)
		}(c)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, rental.ErrNotAvailable):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners: got %d, want 1", wins)
	}
}

func TestAssetsListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4)

	_ = f.reg.BeginUse(as(alice), 1)
	_ = f.reg.BeginInspection(as(bob), 3)

	all, err := f.reg.Assets(ctx, asset.ListOpts{})
	if err != nil {
		t.Fatalf("Assets: %v", err)
	}
	want := []asset.State{asset.Available(), asset.InUse(alice), asset.Available(), asset.Inspection(bob)}
	if len(all) != len(want) {
		t.Fatalf("len: got %d, want %d", len(all), len(want))
	}
	for i, a := range all {
		if a.Index != i || a.State != want[i] {
			t.Errorf("[%d]: got (%d, %v), want (%d, %v)", i, a.Index, a.State, i, want[i])
		}
	}

	inspected, _ := f.reg.Assets(ctx, asset.ListOpts{Kind: asset.KindInspection})
	if len(inspected) != 1 || inspected[0].Index != 3 {
		t.Errorf("inspection filter: got %v", inspected)
	}

	if _, err := f.reg.Assets(ctx, asset.ListOpts{Limit: -1}); !errors.Is(err, rental.ErrInvalidInput) {
		t.Errorf("negative limit: got %v, want %v", err, rental.ErrInvalidInput)
	}
}

func TestCallerRateLimit(t *testing.T) {
	f := newFixture(t, 3, rental.WithCallerRateLimit(0.001, 2))

	if err := f.reg.BeginUse(as(alice), 0); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := f.reg.EndUseOrInspection(as(alice), 0); err != nil {
		t.Fatalf("second: %v", err)
	}
	err := f.reg.BeginUse(as(alice), 1)
	if !errors.Is(err, rental.ErrRateLimited) {
		t.Fatalf("third: got %v, want %v", err, rental.ErrRateLimited)
	}
	if !rental.IsRetryable(err) || !rental.IsRejection(err) {
		t.Error("rate limiting should be a retryable rejection")
	}
	if err := f.reg.BeginUse(as(bob), 1); err != nil {
		t.Errorf("bob has a separate bucket: %v", err)
	}
}
