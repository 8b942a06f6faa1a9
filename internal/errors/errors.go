// internal/errors/errors.go
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation  ErrorType = "validation_error"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeError       ErrorType = "processing_error"
	ErrorTypeRateLimited ErrorType = "rate_limited"
	ErrorTypeUpstream    ErrorType = "upstream_error"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeCancelled   ErrorType = "cancelled"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewRateLimitError 上游配额耗尽
func NewRateLimitError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeRateLimited, message, originalError)
}

// NewUpstreamError 上游AI服务或地理编码服务失败
func NewUpstreamError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUpstream, message, originalError)
}

// TypeOf returns the AppError type in err's chain, or "" when there is none.
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsRateLimitError 检查是否为限流错误
func IsRateLimitError(err error) bool {
	return TypeOf(err) == ErrorTypeRateLimited
}

// StatusCoder is implemented by provider SDK errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Classify wraps a raw provider error into an AppError. Rate limits are recognised
// from a 429 status, from RESOURCE_EXHAUSTED, or from "429" in the message text.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return NewAppError(ErrorTypeCancelled, message, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAppError(ErrorTypeTimeout, message, err)
	case looksRateLimited(err):
		return NewRateLimitError(message, err)
	default:
		return NewUpstreamError(message, err)
	}
}

func looksRateLimited(err error) bool {
	var coder StatusCoder
	if errors.As(err, &coder) && coder.StatusCode() == 429 {
		return true
	}
	text := err.Error()
	return strings.Contains(text, "429") || strings.Contains(text, "RESOURCE_EXHAUSTED")
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeRateLimited:
		return "RATE_LIMIT_EXCEEDED"
	case ErrorTypeUpstream:
		return "UPSTREAM_ERROR"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
