package errors

const (
	HttpInternalError           = "internal_error"
	HttpInvalidJsonError        = "invalid_json"
	HttpInvalidRequestError     = "invalid_request"
	HttpConcurrencyError        = "concurrency_conflict"
	HttpContractNotFoundError   = "contract_not_found"
	HttpContractValidationError = "contract_validation_failed"
	HttpUnknownEventTypeError   = "unknown_event_type"
	HttpProjectionNotFoundError = "projection_not_found"
	HttpStreamNotFoundError     = "stream_not_found"
)

// ErrorResponse is the error body returned by every HTTP handler.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
