// Package observability provides a metrics extension for Rental that records
// asset transitions and settlement outcomes through a MetricFactory.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/rental"
	"github.com/xraph/rental/asset"
	"github.com/xraph/rental/plugin"
	"github.com/xraph/rental/settlement"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnRegistryInitialized  = (*MetricsExtension)(nil)
	_ plugin.OnUseStarted           = (*MetricsExtension)(nil)
	_ plugin.OnUseEnded             = (*MetricsExtension)(nil)
	_ plugin.OnInspectionStarted    = (*MetricsExtension)(nil)
	_ plugin.OnOperationRejected    = (*MetricsExtension)(nil)
	_ plugin.OnSettlementDispatched = (*MetricsExtension)(nil)
	_ plugin.OnSettlementSucceeded  = (*MetricsExtension)(nil)
	_ plugin.OnSettlementFailed     = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records registry metrics.
// Register it as a Rental plugin to track transitions and settlements.
type MetricsExtension struct {
	factory MetricFactory

	// Registry metrics
	RegistryInitialized Counter
	RegistrySize        Histogram

	// Transition metrics
	UseStarted        Counter
	UseEnded          Counter
	InspectionStarted Counter

	// Rejection metrics
	Rejected             Counter
	RejectedUnauthorized Counter
	RejectedRateLimited  Counter

	// Settlement metrics
	SettlementDispatched Counter
	SettlementSucceeded  Counter
	SettlementHeld       Counter
	SettlementAborted    Counter
	SettlementLatency    Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		RegistryInitialized: factory.Counter("rental.registry.initialized"),
		RegistrySize:        factory.Histogram("rental.registry.size"),

		UseStarted:        factory.Counter("rental.asset.use.started"),
		UseEnded:          factory.Counter("rental.asset.use.ended"),
		InspectionStarted: factory.Counter("rental.asset.inspection.started"),

		Rejected:             factory.Counter("rental.operation.rejected"),
		RejectedUnauthorized: factory.Counter("rental.operation.rejected.unauthorized"),
		RejectedRateLimited:  factory.Counter("rental.operation.rejected.rate_limited"),

		SettlementDispatched: factory.Counter("rental.settlement.dispatched"),
		SettlementSucceeded:  factory.Counter("rental.settlement.succeeded"),
		SettlementHeld:       factory.Counter("rental.settlement.held"),
		SettlementAborted:    factory.Counter("rental.settlement.aborted"),
		SettlementLatency:    factory.Histogram("rental.settlement.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnRegistryInitialized implements plugin.OnRegistryInitialized.
func (m *MetricsExtension) OnRegistryInitialized(_ context.Context, reg *asset.Registry) error {
	m.RegistryInitialized.Inc()
	m.RegistrySize.Observe(float64(reg.Size))
	return nil
}

// OnUseStarted implements plugin.OnUseStarted.
func (m *MetricsExtension) OnUseStarted(_ context.Context, _ *asset.Asset) error {
	m.UseStarted.Inc()
	return nil
}

// OnUseEnded implements plugin.OnUseEnded.
func (m *MetricsExtension) OnUseEnded(_ context.Context, _ *asset.Asset, _ asset.AccountID) error {
	m.UseEnded.Inc()
	return nil
}

// OnInspectionStarted implements plugin.OnInspectionStarted.
func (m *MetricsExtension) OnInspectionStarted(_ context.Context, _ *asset.Asset) error {
	m.InspectionStarted.Inc()
	return nil
}

// OnOperationRejected implements plugin.OnOperationRejected.
func (m *MetricsExtension) OnOperationRejected(_ context.Context, _ string, _ int, _ asset.AccountID, err error) error {
	m.Rejected.Inc()
	switch {
	case errors.Is(err, rental.ErrUnauthorized):
		m.RejectedUnauthorized.Inc()
	case errors.Is(err, rental.ErrRateLimited):
		m.RejectedRateLimited.Inc()
	}
	return nil
}

// OnSettlementDispatched implements plugin.OnSettlementDispatched.
func (m *MetricsExtension) OnSettlementDispatched(_ context.Context, _ *settlement.Handle) error {
	m.SettlementDispatched.Inc()
	return nil
}

// OnSettlementSucceeded implements plugin.OnSettlementSucceeded.
func (m *MetricsExtension) OnSettlementSucceeded(_ context.Context, _ *settlement.Handle, elapsed time.Duration) error {
	m.SettlementSucceeded.Inc()
	m.SettlementLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnSettlementFailed implements plugin.OnSettlementFailed.
func (m *MetricsExtension) OnSettlementFailed(_ context.Context, _ *settlement.Handle, err error) error {
	if errors.Is(err, rental.ErrExternalTransferFailed) {
		m.SettlementHeld.Inc()
	} else {
		m.SettlementAborted.Inc()
	}
	return nil
}
