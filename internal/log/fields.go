package log

import "grouply/internal/core"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldGroupID       = "group_id"
	FieldParticipantID = "participant_id"
	FieldExpenseID     = "expense_id"
	FieldPaymentID     = "payment_id"
	FieldPayerID       = "payer_id"
	FieldFromID        = "from_id"
	FieldToID          = "to_id"
	FieldAmount        = "amount"
	FieldSplitMode     = "split_mode"
	FieldShareCount    = "share_count"
	FieldEventType     = "event_type"
	FieldTransferCount = "transfer_count"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentExport    = "export"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpRecordExpense = "record_expense"
	OpRecordPayment = "record_payment"
	OpBalances      = "balances"
	OpSettlements   = "settlements"
	OpList          = "list"
	OpExport        = "export"
	OpValidate      = "validate"
	OpParse         = "parse"
	OpShutdown      = "shutdown"
	OpStartup       = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithGroup(groupID string) LogFields {
	f[FieldGroupID] = groupID
	return f
}

func (f LogFields) WithParticipant(id string) LogFields {
	f[FieldParticipantID] = id
	return f
}

// WithAmount records money as its two-decimal string.
func (f LogFields) WithAmount(m core.Money) LogFields {
	f[FieldAmount] = m.String()
	return f
}

// WithExpense adds expense-related fields
func (f LogFields) WithExpense(e core.Expense) LogFields {
	f[FieldExpenseID] = e.ID
	f[FieldGroupID] = e.GroupID
	f[FieldPayerID] = e.PayerID
	f[FieldSplitMode] = string(e.SplitMode)
	f[FieldShareCount] = len(e.Shares)
	return f.WithAmount(e.Amount)
}

// WithPayment adds payment-related fields
func (f LogFields) WithPayment(p core.Payment) LogFields {
	f[FieldPaymentID] = p.ID
	f[FieldGroupID] = p.GroupID
	f[FieldFromID] = p.FromID
	f[FieldToID] = p.ToID
	return f.WithAmount(p.Amount)
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
