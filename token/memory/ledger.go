// Package memory provides an in-process fungible-token ledger implementing
// token.Service. It keeps balances per registered account and enforces the
// same checks a token contract would: contract address, one-unit deposit,
// positive integer amounts, registration and sufficient balance.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/token"
)

// Compile-time interface check.
var _ token.Service = (*Ledger)(nil)

// Ledger is a token contract held in memory.
type Ledger struct {
	mu         sync.RWMutex
	contract   asset.AccountID
	owner      asset.AccountID
	registered map[asset.AccountID]struct{}
	balances   map[asset.AccountID]decimal.Decimal
	transfers  []token.TransferCall
	failWith   error
	logger     *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Ledger) { m.logger = l }
}

// New creates a ledger for contract whose whole supply belongs to owner.
func New(contract, owner asset.AccountID, totalSupply decimal.Decimal, opts ...Option) *Ledger {
	m := &Ledger{
		contract:   contract,
		owner:      owner,
		registered: map[asset.AccountID]struct{}{owner: {}},
		balances:   map[asset.AccountID]decimal.Decimal{owner: totalSupply},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Contract returns the account the ledger answers to.
func (m *Ledger) Contract() asset.AccountID { return m.contract }

// Register opens a zero balance for account. Registering twice is a no-op.
func (m *Ledger) Register(account asset.AccountID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registered[account]; ok {
		return
	}
	m.registered[account] = struct{}{}
	m.balances[account] = decimal.Zero
}

// IsRegistered reports whether account holds storage on the ledger.
func (m *Ledger) IsRegistered(account asset.AccountID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.registered[account]
	return ok
}

// Fund moves amount from the owner to account, registering it if needed.
func (m *Ledger) Fund(ctx context.Context, account asset.AccountID, amount decimal.Decimal) error {
	m.Register(account)
	return m.Transfer(ctx, token.TransferCall{
		Contract: m.contract,
		Sender:   m.owner,
		Deposit:  token.OneUnit,
		Receiver: account,
		Amount:   amount.String(),
	})
}

// FailWith makes every subsequent transfer fail with err. Pass nil to clear.
func (m *Ledger) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Transfers returns the calls that were applied, in order.
func (m *Ledger) Transfers() []token.TransferCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]token.TransferCall, len(m.transfers))
	copy(out, m.transfers)
	return out
}

// Transfer implements token.Service.
func (m *Ledger) Transfer(ctx context.Context, call token.TransferCall) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}
	if call.Contract != m.contract {
		return fmt.Errorf("%w: %s", token.ErrUnknownContract, call.Contract)
	}
	if !call.Deposit.Equal(token.OneUnit) {
		return token.ErrDepositRequired
	}

	amount, err := decimal.NewFromString(call.Amount)
	if err != nil || !amount.IsInteger() || !amount.IsPositive() {
		return fmt.Errorf("%w: %q", token.ErrInvalidAmount, call.Amount)
	}
	if call.Sender == call.Receiver {
		return token.ErrSelfTransfer
	}
	if _, ok := m.registered[call.Sender]; !ok {
		return fmt.Errorf("%w: %s", token.ErrNotRegistered, call.Sender)
	}
	if _, ok := m.registered[call.Receiver]; !ok {
		return fmt.Errorf("%w: %s", token.ErrNotRegistered, call.Receiver)
	}
	if m.balances[call.Sender].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s",
			token.ErrInsufficientBalance, call.Sender, m.balances[call.Sender], amount)
	}

	m.balances[call.Sender] = m.balances[call.Sender].Sub(amount)
	m.balances[call.Receiver] = m.balances[call.Receiver].Add(amount)
	m.transfers = append(m.transfers, call)

	m.logger.Debug("token transfer applied",
		"sender", call.Sender,
		"receiver", call.Receiver,
		"amount", amount.String(),
	)

	return nil
}

// BalanceOf implements token.Service. Unregistered accounts report zero.
func (m *Ledger) BalanceOf(_ context.Context, account asset.AccountID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if b, ok := m.balances[account]; ok {
		return b, nil
	}
	return decimal.Zero, nil
}
