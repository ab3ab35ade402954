package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Embedded controller errors
	ErrAddressOutOfRange   ErrorCode = "ec_address_out_of_range"
	ErrPermissionDenied    ErrorCode = "ec_permission_denied"
	ErrHardwareUnavailable ErrorCode = "ec_hardware_unavailable"
	ErrHardwareTimeout     ErrorCode = "ec_hardware_timeout"

	// Profile and curve errors
	ErrProfileParse    ErrorCode = "profile_parse_error"
	ErrProfileNotFound ErrorCode = "profile_not_found"
	ErrEncoding        ErrorCode = "curve_encoding_error"
	ErrValidation      ErrorCode = "validation_error"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:            "Internal error occurred",
	ErrInvalidArgument:     "Invalid argument provided",
	ErrNotImplemented:      "Operation not implemented",
	ErrAlreadyRunning:      "Another instance is already running",
	ErrInvalidConfig:       "Invalid configuration",
	ErrBindFlags:           "Failed to bind flags",
	ErrReadConfig:          "Failed to read config file",
	ErrInvalidInterval:     "Invalid interval value",
	ErrInvalidLogLevel:     "Invalid log level",
	ErrInitFailed:          "Initialization failed",
	ErrShutdownFailed:      "Shutdown failed",
	ErrAddressOutOfRange:   "EC address out of range",
	ErrPermissionDenied:    "Permission denied",
	ErrHardwareUnavailable: "EC hardware unavailable",
	ErrHardwareTimeout:     "EC did not respond within retry budget",
	ErrProfileParse:        "Malformed profile section",
	ErrProfileNotFound:     "Profile not found",
	ErrEncoding:            "Unsupported duty encoding",
	ErrValidation:          "Validation failed",
	ErrOperationFailed:     "Operation failed",
	ErrTimeout:             "Operation timed out",
	ErrInvalidOperation:    "Invalid operation",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
