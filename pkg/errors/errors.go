package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDecode             = NewError("DECODE_ERROR", "malformed envelope or payload", http.StatusBadRequest)
	ErrConnection         = NewError("CONNECTION_ERROR", "broker unreachable", http.StatusServiceUnavailable)
	ErrPublish            = NewError("PUBLISH_ERROR", "publish failed", http.StatusServiceUnavailable)
	ErrCall               = NewError("CALL_ERROR", "direct call failed", http.StatusBadGateway)
	ErrTimeout            = NewError("TIMEOUT", "operation timed out", http.StatusGatewayTimeout)
	ErrStageLogic         = NewError("STAGE_LOGIC_ERROR", "stage logic failed", http.StatusInternalServerError)
	ErrStageRejected      = NewError("STAGE_REJECTED", "stage rejected the input", http.StatusUnprocessableEntity)
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
)

// Codes that never succeed on a second attempt with the same input.
var fatalCodes = map[string]bool{
	ErrDecode.Code:        true,
	ErrValidation.Code:    true,
	ErrNotFound.Code:      true,
	ErrStageRejected.Code: true,
}

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return !fatalCodes[e.Code]
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return fatalCodes[e.Code]
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

// WithMessage keeps the code and replaces the human readable message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	err := *e
	err.Message = fmt.Sprintf(format, args...)
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

// Code returns the code of the outermost *Error in the chain, or "" if there is none.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func HasCode(err error, target *Error) bool {
	return err != nil && Code(err) == target.Code
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrNotFound)
}

func IsValidation(err error) bool {
	return HasCode(err, ErrValidation)
}

func IsDecode(err error) bool {
	return HasCode(err, ErrDecode)
}

func IsTimeout(err error) bool {
	return HasCode(err, ErrTimeout)
}

// IsTransport reports whether err came from moving a message rather than from processing it.
func IsTransport(err error) bool {
	switch Code(err) {
	case ErrConnection.Code, ErrPublish.Code, ErrTimeout.Code, ErrServiceUnavailable.Code:
		return true
	}
	return false
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"success":    false,
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}

// Is and As forward to the standard library so callers need a single errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
