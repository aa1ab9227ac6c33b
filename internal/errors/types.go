package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeNotFound       ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeConflict       ErrorCode = "RESOURCE_CONFLICT"

	// 参数与配置
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeConfiguration   ErrorCode = "CONFIGURATION_ERROR"

	// 外部服务错误
	ErrCodeEmbeddingService ErrorCode = "EMBEDDING_SERVICE_ERROR"
	ErrCodeVectorStore      ErrorCode = "VECTOR_STORE_ERROR"
	ErrCodeGeneration       ErrorCode = "GENERATION_ERROR"

	// 文件处理错误
	ErrCodeInvalidFileFormat ErrorCode = "INVALID_FILE_FORMAT"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// 错误构造函数

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewConfigurationError 配置错误：维度不一致、分块参数非法等，不重试
func NewConfigurationError(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:     ErrCodeConfiguration,
		Message:  fmt.Sprintf(format, args...),
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewInvalidArgumentError 参数错误，在调用任何后端之前同步拒绝
func NewInvalidArgumentError(field, reason string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidArgument,
		Message:  fmt.Sprintf("invalid argument '%s': %s", field, reason),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewEmbeddingServiceError 向量化服务错误（可重试）
func NewEmbeddingServiceError(message string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeEmbeddingService,
		Message:  message,
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusBadGateway,
		Cause:    cause,
	}
}

// NewVectorStoreError 向量存储错误
func NewVectorStoreError(message string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeVectorStore,
		Message:  message,
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusBadGateway,
		Cause:    cause,
	}
}

// NewGenerationError 生成服务错误（不自动重试）
func NewGenerationError(message string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeGeneration,
		Message:  message,
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusBadGateway,
		Cause:    cause,
	}
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusNotFound,
	}
}

// NewConflictError 资源已存在
func NewConflictError(resource, id string) *AppError {
	return &AppError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("%s %s already exists", resource, id),
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusConflict,
	}
}

// NewInvalidFileError 文件格式错误
func NewInvalidFileError(filename string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidFileFormat,
		Message:  fmt.Sprintf("cannot extract text from %s", filename),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// IsCode 判断错误链中是否包含指定错误码
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable 只有向量化服务错误可以重试
func IsRetryable(err error) bool {
	return IsCode(err, ErrCodeEmbeddingService)
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

func getErrorTypeString(errorType ErrorType) string {
	switch errorType {
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "system"
	}
}
