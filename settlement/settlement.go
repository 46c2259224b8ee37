// Package settlement describes the reward transfer issued when an inspection
// ends and the handle through which callers observe its outcome.
//
// A settlement is not persisted. While it is outstanding the asset it belongs
// to stays in the Inspection state, which is the only durable trace of it.
package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/id"
)

// TransferRequest is the payload sent to the token service.
type TransferRequest struct {
	Receiver asset.AccountID `json:"receiver_id"`
	Amount   string          `json:"amount"`
	Memo     *string         `json:"memo"`
}

// Status is the state of one asynchronous transfer result.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

// Result is what the continuation receives for a dispatched transfer.
type Result struct {
	Status Status
	Err    error
}

// Outcome is how a settlement was reconciled into asset state.
type Outcome string

const (
	// OutcomePending means the continuation has not run yet.
	OutcomePending Outcome = "pending"
	// OutcomeSettled means the transfer succeeded and the asset is Available.
	OutcomeSettled Outcome = "settled"
	// OutcomeHeld means the transfer failed and the asset stays in Inspection.
	OutcomeHeld Outcome = "held"
	// OutcomeAborted means the continuation saw an invalid result set and
	// committed nothing.
	OutcomeAborted Outcome = "aborted"
)

// Handle tracks one outstanding settlement.
type Handle struct {
	ID           id.SettlementID `json:"id"`
	AssetIndex   int             `json:"asset_index"`
	Request      TransferRequest `json:"request"`
	DispatchedAt time.Time       `json:"dispatched_at"`

	done chan struct{}
	once sync.Once

	mu      sync.RWMutex
	outcome Outcome
	err     error
}

// ResolveFunc records the final outcome of a Handle. Only the first call has
// any effect.
type ResolveFunc func(Outcome, error)

// NewHandle creates a pending handle and the function that resolves it.
func NewHandle(index int, req TransferRequest) (*Handle, ResolveFunc) {
	h := &Handle{
		ID:           id.NewSettlementID(),
		AssetIndex:   index,
		Request:      req,
		DispatchedAt: time.Now().UTC(),
		done:         make(chan struct{}),
		outcome:      OutcomePending,
	}
	return h, h.resolve
}

func (h *Handle) resolve(o Outcome, err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.outcome = o
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}

// Done is closed once the continuation has run.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.Outcome(), h.Err()
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

// Outcome returns the current outcome without blocking.
func (h *Handle) Outcome() Outcome {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.outcome
}

// Err returns the error the settlement resolved with, if any.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Resolved reports whether the continuation has run.
func (h *Handle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
