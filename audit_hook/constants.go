package audithook

// Action constants for audit events.
const (
	// Registry actions
	ActionRegistryInitialized = "registry.initialized"

	// Asset actions
	ActionUseStarted        = "asset.use_started"
	ActionUseEnded          = "asset.use_ended"
	ActionInspectionStarted = "asset.inspection_started"
	ActionOperationRejected = "asset.operation_rejected"

	// Settlement actions
	ActionSettlementDispatched = "settlement.dispatched"
	ActionSettlementSucceeded  = "settlement.succeeded"
	ActionSettlementFailed     = "settlement.failed"
)

// Resource constants for audit events.
const (
	ResourceRegistry   = "registry"
	ResourceAsset      = "asset"
	ResourceSettlement = "settlement"
)

// Category constants for audit events.
const (
	CategoryLifecycle = "lifecycle"
	CategoryRental    = "rental"
	CategoryAccess    = "access"
	CategoryPayment   = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)
