package telemetry

import "codeberg.org/mutker/iswctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")

	// Connection Errors
	ErrConnectionFailed = errors.ErrorCode("telemetry_connection_failed")

	// Export Errors
	ErrPublishFailed = errors.ErrorCode("telemetry_publish_failed")
	ErrEncodeFailed  = errors.ErrorCode("telemetry_encode_failed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrorCode("telemetry_operation_timeout")
	ErrServiceShutdown  = errors.ErrorCode("telemetry_service_shutdown_failed")
)
