package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldDeviceID  = "device_id"
	FieldRequestID = "request_id"
	FieldClientIP  = "client_ip"
	FieldGuestCode = "guest_code"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / network fields
	FieldPath = "path"
	FieldAddr = "addr"
	FieldPort = "port"
)
