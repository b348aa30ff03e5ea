package types

import "fmt"

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these constants instead of
// hardcoded strings so alerting and log queries can match on them.
const (
	// Validation
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationBadPayload   ErrorCode = "validation_malformed_payload"

	// Credentials / vault
	ErrCodeCredentialNotFound ErrorCode = "credential_not_found"
	ErrCodeVaultSecretMissing ErrorCode = "vault_secret_missing"

	// Internal
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"

	// Upstream (Amazon Ads API)
	ErrCodeUpstreamAuth        ErrorCode = "upstream_auth_failed"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamReportFail  ErrorCode = "upstream_report_failed"
	ErrCodeReportParse         ErrorCode = "report_payload_unparseable"
)

// AppError is the standard application error carrying a machine-readable
// code, a human-readable message, and an optional wrapped cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewAppError constructs an AppError wrapping an optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}
