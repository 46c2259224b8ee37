package rental

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/id"
	"github.com/xraph/rental/settlement"
	"github.com/xraph/rental/token"
)

// coordinator issues reward transfers for completed inspections and feeds
// each result back into the registry exactly once.
type coordinator struct {
	reg  *Registry
	auth *authority

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[int]*settlement.Handle
	stopped  bool
}

func newCoordinator(r *Registry, auth *authority) *coordinator {
	base, cancel := context.WithCancel(context.Background())
	return &coordinator{
		reg:      r,
		auth:     auth,
		base:     base,
		cancel:   cancel,
		inflight: make(map[int]*settlement.Handle),
	}
}

// settleInspectionReturn dispatches the reward for inspector and returns
// without waiting for it. The caller holds the registry lock; the
// continuation re-acquires it once the token service has answered.
func (c *coordinator) settleInspectionReturn(ctx context.Context, index int, inspector asset.AccountID) (*settlement.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, ErrStoreClosed
	}
	if h, ok := c.inflight[index]; ok {
		return nil, fmt.Errorf("%w: settlement %s already outstanding for asset %d",
			ErrInvalidTransition, h.ID, index)
	}

	req := settlement.TransferRequest{
		Receiver: inspector,
		Amount:   c.reg.reward.DecimalString(),
		Memo:     nil,
	}
	h, resolve := settlement.NewHandle(index, req)

	call := token.TransferCall{
		ID:       id.NewTransferID(),
		Contract: c.reg.tokenAccount,
		Sender:   c.reg.selfAccount,
		Deposit:  token.OneUnit,
		Receiver: req.Receiver,
		Amount:   req.Amount,
		Memo:     req.Memo,
	}

	// The transfer outlives the caller's request and ends only with Stop.
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(c.base, cancel)

	c.inflight[index] = h
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer stopAfter()
		defer cancel()
		c.run(dctx, h, resolve, call)
	}()

	return h, nil
}

func (c *coordinator) run(ctx context.Context, h *settlement.Handle, resolve settlement.ResolveFunc, call token.TransferCall) {
	ctx, span := c.reg.tracer.Start(ctx, "rental.settlement",
		trace.WithAttributes(
			indexAttr(h.AssetIndex),
			attribute.String("rental.settlement_id", h.ID.String()),
			attribute.String("rental.transfer_id", call.ID.String()),
			attribute.String("rental.receiver", string(call.Receiver)),
			attribute.String("rental.amount", call.Amount),
		),
	)
	defer span.End()

	c.reg.logger.Info("reward transfer dispatched",
		"index", h.AssetIndex,
		"settlement_id", h.ID.String(),
		"transfer_id", call.ID.String(),
		"contract", call.Contract,
		"receiver", call.Receiver,
		"amount", call.Amount,
	)

	var results []settlement.Result
	if err := c.reg.tokens.Transfer(ctx, call); err != nil {
		results = []settlement.Result{{Status: settlement.StatusFailed, Err: err}}
	} else {
		results = []settlement.Result{{Status: settlement.StatusSuccessful}}
	}

	// The continuation is its own call: it commits even if Stop cancelled
	// the transfer context.
	cctx := context.WithoutCancel(ctx)
	err := c.reg.resumeSettlement(cctx, c.auth, h.AssetIndex, results)

	// A settled asset was already released under the registry lock; this
	// covers the held and aborted paths.
	c.reg.mu.Lock()
	c.release(h.AssetIndex, h)
	c.reg.mu.Unlock()

	elapsed := time.Since(h.DispatchedAt)
	switch {
	case err == nil:
		c.reg.logger.Info("settlement confirmed, asset released",
			"index", h.AssetIndex,
			"settlement_id", h.ID.String(),
			"elapsed_ms", elapsed.Milliseconds(),
		)
		c.reg.plugins.EmitSettlementSucceeded(cctx, h, elapsed)
		resolve(settlement.OutcomeSettled, nil)

	case errors.Is(err, ErrExternalTransferFailed):
		recordSpanError(span, err)
		c.reg.logger.Warn("reward transfer failed, asset held in inspection",
			"index", h.AssetIndex,
			"settlement_id", h.ID.String(),
			"error", err,
		)
		c.reg.plugins.EmitSettlementFailed(cctx, h, err)
		resolve(settlement.OutcomeHeld, err)

	default:
		recordSpanError(span, err)
		c.reg.logger.Error("settlement continuation aborted",
			"index", h.AssetIndex,
			"settlement_id", h.ID.String(),
			"error", err,
		)
		c.reg.plugins.EmitSettlementFailed(cctx, h, err)
		resolve(settlement.OutcomeAborted, err)
	}
}

// release drops the inflight entry for index. A nil h drops whatever entry
// is there; otherwise only h itself is dropped. Callers hold the registry
// lock, so a return racing the continuation sees the asset and the entry
// change together.
func (c *coordinator) release(index int, h *settlement.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.inflight[index]; ok && (h == nil || cur == h) {
		delete(c.inflight, index)
	}
}

// outstanding returns the unresolved handles ordered by asset index.
func (c *coordinator) outstanding() []*settlement.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*settlement.Handle, 0, len(c.inflight))
	for _, h := range c.inflight {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetIndex < out[j].AssetIndex })
	return out
}

// stop refuses new settlements, cancels the outstanding transfers and waits
// for their continuations.
func (c *coordinator) stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// Outstanding returns the settlements whose continuation has not run yet.
func (r *Registry) Outstanding() []*settlement.Handle {
	return r.coord.outstanding()
}

func indexAttr(index int) attribute.KeyValue {
	return attribute.Int("rental.asset_index", index)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
