package audithook

// Action constants for audit events.
const (
	// Identity actions
	ActionUserCreated    = "user.created"
	ActionProfileUpdated = "user.profile_updated"

	// Ledger actions
	ActionCreditsConsumed = "credits.consumed"
	ActionConsumeRejected = "credits.consume_rejected"
	ActionCreditsGranted  = "credits.granted"

	// Billing actions
	ActionSubscriptionStarted  = "subscription.started"
	ActionSubscriptionRenewed  = "subscription.renewed"
	ActionSubscriptionCanceled = "subscription.canceled"
	ActionPaymentFailed        = "payment.failed"
	ActionBillingRejected      = "billing.rejected"
)

// Resource constants for audit events.
const (
	ResourceUser         = "user"
	ResourceCredits      = "credits"
	ResourceSubscription = "subscription"
	ResourceBillingEvent = "billing_event"
)

// Category constants for audit events.
const (
	CategoryIdentity     = "identity"
	CategoryUsage        = "usage"
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
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
