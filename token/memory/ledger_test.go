package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/token"
)

const (
	contract = "sub.ft_jk.testnet"
	owner    = "owner.testnet"
	bikes    = "bikes.testnet"
	bob      = "bob.testnet"
)

func newFundedLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(contract, owner, decimal.NewFromInt(1000))
	if err := l.Fund(context.Background(), bikes, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	l.Register(bob)
	return l
}

func call(amount string) token.TransferCall {
	return token.TransferCall{
		Contract: contract,
		Sender:   bikes,
		Deposit:  token.OneUnit,
		Receiver: bob,
		Amount:   amount,
	}
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	l := newFundedLedger(t)

	if err := l.Transfer(ctx, call("15")); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	tests := []struct {
		account asset.AccountID
		want    int64
	}{
		{owner, 950},
		{bikes, 35},
		{bob, 15},
		{"nobody.testnet", 0},
	}
	for _, tt := range tests {
		got, err := l.BalanceOf(ctx, tt.account)
		if err != nil {
			t.Fatalf("BalanceOf(%s): %v", tt.account, err)
		}
		if !got.Equal(decimal.NewFromInt(tt.want)) {
			t.Errorf("BalanceOf(%s): got %s, want %d", tt.account, got, tt.want)
		}
	}

	if n := len(l.Transfers()); n != 2 {
		t.Errorf("Transfers: got %d, want 2 (fund + reward)", n)
	}
}

func TestTransferRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*token.TransferCall)
		want   error
	}{
		{"wrong contract", func(c *token.TransferCall) { c.Contract = "other.testnet" }, token.ErrUnknownContract},
		{"no deposit", func(c *token.TransferCall) { c.Deposit = decimal.Zero }, token.ErrDepositRequired},
		{"fraction", func(c *token.TransferCall) { c.Amount = "1.5" }, token.ErrInvalidAmount},
		{"zero", func(c *token.TransferCall) { c.Amount = "0" }, token.ErrInvalidAmount},
		{"garbage", func(c *token.TransferCall) { c.Amount = "ten" }, token.ErrInvalidAmount},
		{"self", func(c *token.TransferCall) { c.Receiver = bikes }, token.ErrSelfTransfer},
		{"unregistered receiver", func(c *token.TransferCall) { c.Receiver = "carol.testnet" }, token.ErrNotRegistered},
		{"overdraw", func(c *token.TransferCall) { c.Amount = "51" }, token.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFundedLedger(t)
			c := call("15")
			tt.mutate(&c)

			err := l.Transfer(context.Background(), c)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}

			got, _ := l.BalanceOf(context.Background(), bikes)
			if !got.Equal(decimal.NewFromInt(50)) {
				t.Errorf("sender balance changed on rejection: %s", got)
			}
		})
	}
}

func TestFailWith(t *testing.T) {
	l := newFundedLedger(t)
	outage := errors.New("service unavailable")

	l.FailWith(outage)
	if err := l.Transfer(context.Background(), call("15")); !errors.Is(err, outage) {
		t.Fatalf("got %v, want %v", err, outage)
	}

	l.FailWith(nil)
	if err := l.Transfer(context.Background(), call("15")); err != nil {
		t.Fatalf("Transfer after clear: %v", err)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	l := newFundedLedger(t)
	l.Register(bikes)

	got, _ := l.BalanceOf(context.Background(), bikes)
	if !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("re-register reset balance: got %s, want 50", got)
	}
	if !l.IsRegistered(bob) {
		t.Error("bob should be registered")
	}
}
