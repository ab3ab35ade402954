package errors

// ErrorCode identifies a class of failure. It is itself an error, so
// errors.Is(err, ErrHardwareTimeout) matches any Error carrying that code.
type ErrorCode string

func (c ErrorCode) Error() string {
	return GetErrorMessage(c)
}

// Error is a coded error with optional context data and cause.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
	Is(target error) bool
}

// Factory builds coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
	WrapWithData(code ErrorCode, err error, data any) Error
}
