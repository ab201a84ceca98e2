package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldYear       = "year"
	FieldMonth      = "month"
	FieldCategory   = "category"
	FieldAccountID  = "account_id"
	FieldRefreshID  = "refresh_id"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentIngest   = "ingest"
	ComponentRefresh  = "refresh"
	ComponentRules    = "rules"
	ComponentBudget   = "budget"
	ComponentStorage  = "storage"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentSheets   = "sheets"
	ComponentProvider = "provider"
)

// Operations defines standard operation names
const (
	OpRefresh    = "refresh"
	OpCategorize = "categorize"
	OpFetch      = "fetch"
	OpExport     = "export"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)
