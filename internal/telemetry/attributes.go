// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Session attributes
	SessionIDKey         = "session.id"
	SessionDeviceIDKey   = "session.device_id"
	SessionGuestKey      = "session.guest"
	SessionPermissionKey = "session.permission"

	// Agent run attributes
	RunExitCodeKey    = "run.exit_code"
	RunDurationKey    = "run.duration_ms"
	RunInterruptedKey = "run.interrupted"
	RunPromptCharsKey = "run.prompt_chars"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes creates session-related span attributes. The prompt
// text itself never becomes an attribute; only its length does.
func SessionAttributes(sessionID, deviceID string, guest bool, permission string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.Bool(SessionGuestKey, guest),
		attribute.String(SessionPermissionKey, permission),
	}
	if deviceID != "" {
		attrs = append(attrs, attribute.String(SessionDeviceIDKey, deviceID))
	}
	return attrs
}

// RunAttributes creates agent-run span attributes.
func RunAttributes(promptChars int, exitCode int, durationMS int64, interrupted bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(RunPromptCharsKey, promptChars),
		attribute.Int(RunExitCodeKey, exitCode),
		attribute.Int64(RunDurationKey, durationMS),
		attribute.Bool(RunInterruptedKey, interrupted),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
