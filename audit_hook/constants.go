package audithook

// Action constants for audit events.
const (
	// Engine actions
	ActionEngineStarted = "engine.started"
	ActionEngineStopped = "engine.stopped"

	// Adapter actions
	ActionAdapterRegistered = "adapter.registered"

	// Request actions
	ActionRequestCommitted = "request.committed"
	ActionRequestAborted   = "request.aborted"

	// Balance actions
	ActionChargeRefused = "charge.refused"
)

// Resource constants for audit events.
const (
	ResourceEngine  = "engine"
	ResourceAdapter = "adapter"
	ResourceRequest = "request"
	ResourceAccount = "account"
)

// Category constants for audit events.
const (
	CategoryBilling     = "billing"
	CategoryIntegration = "integration"
	CategorySystem      = "system"
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
)
