// Package audithook bridges registry lifecycle and settlement events to an
// audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on any
// particular audit store. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/plugin"
	"github.com/xraph/rental/settlement"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnRegistryInitialized  = (*Extension)(nil)
	_ plugin.OnUseStarted           = (*Extension)(nil)
	_ plugin.OnUseEnded             = (*Extension)(nil)
	_ plugin.OnInspectionStarted    = (*Extension)(nil)
	_ plugin.OnOperationRejected    = (*Extension)(nil)
	_ plugin.OnSettlementDispatched = (*Extension)(nil)
	_ plugin.OnSettlementSucceeded  = (*Extension)(nil)
	_ plugin.OnSettlementFailed     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single entry in the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges registry events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnRegistryInitialized implements plugin.OnRegistryInitialized.
func (e *Extension) OnRegistryInitialized(ctx context.Context, reg *asset.Registry) error {
	return e.record(ctx, ActionRegistryInitialized, SeverityInfo, OutcomeSuccess,
		ResourceRegistry, reg.ID.String(), CategoryLifecycle, "", nil,
		"size", reg.Size,
	)
}

// ──────────────────────────────────────────────────
// Asset hooks
// ──────────────────────────────────────────────────

// OnUseStarted implements plugin.OnUseStarted.
func (e *Extension) OnUseStarted(ctx context.Context, a *asset.Asset) error {
	return e.record(ctx, ActionUseStarted, SeverityInfo, OutcomeSuccess,
		ResourceAsset, assetID(a.Index), CategoryRental, a.State.Holder, nil,
		"version", a.Version,
	)
}

// OnUseEnded implements plugin.OnUseEnded.
func (e *Extension) OnUseEnded(ctx context.Context, a *asset.Asset, holder asset.AccountID) error {
	return e.record(ctx, ActionUseEnded, SeverityInfo, OutcomeSuccess,
		ResourceAsset, assetID(a.Index), CategoryRental, holder, nil,
		"version", a.Version,
	)
}

// OnInspectionStarted implements plugin.OnInspectionStarted.
func (e *Extension) OnInspectionStarted(ctx context.Context, a *asset.Asset) error {
	return e.record(ctx, ActionInspectionStarted, SeverityInfo, OutcomeSuccess,
		ResourceAsset, assetID(a.Index), CategoryRental, a.State.Holder, nil,
		"version", a.Version,
	)
}

// OnOperationRejected implements plugin.OnOperationRejected.
// Authorization failures are recorded as warnings.
func (e *Extension) OnOperationRejected(ctx context.Context, op string, index int, caller asset.AccountID, err error) error {
	severity, category := SeverityInfo, CategoryRental
	if errors.Is(err, rental.ErrUnauthorized) || errors.Is(err, rental.ErrNoCaller) {
		severity, category = SeverityWarning, CategoryAccess
	}
	return e.record(ctx, ActionOperationRejected, severity, OutcomeFailure,
		ResourceAsset, assetID(index), category, caller, err,
		"op", op,
	)
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementDispatched implements plugin.OnSettlementDispatched.
func (e *Extension) OnSettlementDispatched(ctx context.Context, h *settlement.Handle) error {
	return e.record(ctx, ActionSettlementDispatched, SeverityInfo, OutcomePending,
		ResourceSettlement, h.ID.String(), CategoryPayment, h.Request.Receiver, nil,
		"asset_index", h.AssetIndex,
		"amount", h.Request.Amount,
	)
}

// OnSettlementSucceeded implements plugin.OnSettlementSucceeded.
func (e *Extension) OnSettlementSucceeded(ctx context.Context, h *settlement.Handle, elapsed time.Duration) error {
	return e.record(ctx, ActionSettlementSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceSettlement, h.ID.String(), CategoryPayment, h.Request.Receiver, nil,
		"asset_index", h.AssetIndex,
		"amount", h.Request.Amount,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnSettlementFailed implements plugin.OnSettlementFailed.
// A protocol violation is critical: the continuation saw results it must
// never see.
func (e *Extension) OnSettlementFailed(ctx context.Context, h *settlement.Handle, err error) error {
	severity := SeverityError
	if errors.Is(err, rental.ErrProtocolViolation) || errors.Is(err, rental.ErrPrivateCall) {
		severity = SeverityCritical
	}
	return e.record(ctx, ActionSettlementFailed, severity, OutcomeFailure,
		ResourceSettlement, h.ID.String(), CategoryPayment, h.Request.Receiver, err,
		"asset_index", h.AssetIndex,
		"amount", h.Request.Amount,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func assetID(index int) string { return strconv.Itoa(index) }

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	actor asset.AccountID,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Actor:      string(actor),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
