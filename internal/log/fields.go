package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldError         = "error"
	FieldDuration      = "duration_ms"
	FieldUserID        = "user_id"
	FieldTransactionID = "transaction_id"
	FieldParentID      = "parent_transaction_id"
	FieldBudgetID      = "budget_id"
	FieldGoalID        = "goal_id"
	FieldCurrency      = "currency"
	FieldAmount        = "amount"
	FieldKind          = "kind"
	FieldStatus        = "status"
	FieldOccurrence    = "occurrence"
	FieldSweep         = "sweep"
)

// Components defines standard component names
const (
	ComponentApp    = "app"
	ComponentNotify = "notify"
	ComponentWorker = "worker"
)
