// Package token is the port to the fungible-token service that pays
// inspection rewards.
package token

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/id"
)

// Errors a token service reports for a rejected transfer.
var (
	ErrUnknownContract     = errors.New("token: unknown contract")
	ErrDepositRequired     = errors.New("token: requires attached deposit of exactly 1 unit")
	ErrInvalidAmount       = errors.New("token: amount must be a positive integer")
	ErrNotRegistered       = errors.New("token: account is not registered")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrSelfTransfer        = errors.New("token: sender and receiver must differ")
)

// OneUnit is the deposit attached to every transfer call.
var OneUnit = decimal.NewFromInt(1)

// TransferCall is a single transfer invocation against a token contract.
type TransferCall struct {
	ID       id.TransferID   `json:"id"`
	Contract asset.AccountID `json:"contract"`
	Sender   asset.AccountID `json:"sender"`
	Deposit  decimal.Decimal `json:"deposit"`
	Receiver asset.AccountID `json:"receiver_id"`
	Amount   string          `json:"amount"`
	Memo     *string         `json:"memo,omitempty"`
}

// Service moves tokens between accounts. Transfer may block until the
// service has an answer; a nil error means the transfer is final.
type Service interface {
	Transfer(ctx context.Context, call TransferCall) error
	BalanceOf(ctx context.Context, account asset.AccountID) (decimal.Decimal, error)
}
