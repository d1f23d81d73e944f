package domain

// Gateway error codes. Authorization and validation failures go back to the
// originating socket only and are expected client misuse, not server faults.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeValidation   = "VALIDATION_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

// GatewayError is a protocol error with a code from the taxonomy above.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string { return e.Message }

func Unauthorized(message string) *GatewayError {
	return &GatewayError{Code: CodeUnauthorized, Message: message}
}

func Forbidden(message string) *GatewayError {
	return &GatewayError{Code: CodeForbidden, Message: message}
}

func NotFound(message string) *GatewayError {
	return &GatewayError{Code: CodeNotFound, Message: message}
}

func Invalid(message string) *GatewayError {
	return &GatewayError{Code: CodeValidation, Message: message}
}
