package logging

// Standardized attribute keys. Components log with these so downstream
// filtering does not have to guess at spellings.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldItemID    = "item_id"
	FieldBatchID   = "batch_id"
	FieldRequestID = "request_id"
	FieldState     = "state"
	FieldKind      = "kind"
	FieldAttempt   = "attempt"
)
