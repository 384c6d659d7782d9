// pkg/security/event_types.go
package security

// Security event types logged by the identity gate and auth service.
const (
	EventTypeLoginSuccess       = "login_success"
	EventTypeLoginFailed        = "login_failed"
	EventTypeRegistration       = "registration"
	EventTypeTokenMalformed     = "token_malformed"
	EventTypeTokenExpired       = "token_expired"
	EventTypeTokenBadSignature  = "token_bad_signature"
	EventTypeTokenMissingClaim  = "token_missing_claim"
	EventTypeTenantMismatch     = "tenant_mismatch"
	EventTypeRateLimitExceeded  = "rate_limit_exceeded"
	EventTypeSuspiciousActivity = "suspicious_activity"
)

// Severity levels for security events.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)
