package errors

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/go-playground/validator/v10"
)

// Translate 将各种类型的错误转换为AppError
func Translate(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var validationErrors validator.ValidationErrors
	if stderrors.As(err, &validationErrors) {
		return translateValidationErrors(validationErrors)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewSystemError(ErrCodeInternalServer, "operation timed out").WithCause(err)
	}

	var netErr *net.OpError
	if stderrors.As(err, &netErr) {
		return NewSystemError(ErrCodeInternalServer, "network error").WithCause(err)
	}

	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

// translateValidationErrors 配置校验失败统一视为配置错误
func translateValidationErrors(validationErrors validator.ValidationErrors) *AppError {
	details := make([]map[string]interface{}, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		details = append(details, map[string]interface{}{
			"field":   fieldError.Namespace(),
			"tag":     fieldError.Tag(),
			"param":   fieldError.Param(),
			"message": validationMessage(fieldError),
		})
	}

	return NewConfigurationError("configuration validation failed").
		WithCause(validationErrors).
		WithDetails(map[string]interface{}{"errors": details})
}

func validationMessage(fieldError validator.FieldError) string {
	field := fieldError.Field()
	switch fieldError.Tag() {
	case "required":
		return field + " is required"
	case "min", "gte":
		return field + " must be at least " + fieldError.Param()
	case "max", "lte":
		return field + " must be at most " + fieldError.Param()
	case "gtfield":
		return field + " must be greater than " + fieldError.Param()
	case "ltfield":
		return field + " must be less than " + fieldError.Param()
	case "oneof":
		return field + " must be one of: " + fieldError.Param()
	default:
		return field + " is invalid"
	}
}
