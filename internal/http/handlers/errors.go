package handlers

// Error codes carried in ErrorResponse.Code. Generic codes mirror the HTTP
// status; domain codes name the submission or photo failure.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeInvalidImage    = "invalid_image"
	ErrCodeMissingIdentity = "missing_identity"
	ErrCodeSubmitFailed    = "submit_failed"
	ErrCodeBadClientTxn    = "bad_client_txn"
	ErrCodeTxnMismatch     = "client_txn_mismatch"
)
