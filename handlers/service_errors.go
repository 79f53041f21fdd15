package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/upb/command-bridge/services"
	"github.com/upb/command-bridge/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses.
// Messages come from the domain error and never include credentials.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	code := services.GetErrorCode(err)
	msg := services.GetErrorMessage(err)
	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case errors.Is(err, context.Canceled):
		// The caller went away; nobody is left to read a response.
		logger.Debug("request canceled by caller")
		return

	case errors.Is(err, context.DeadlineExceeded):
		writeErr = utils.WriteError(w, http.StatusGatewayTimeout, "", "request timed out", nil)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, code, msg, details)

	case services.IsUnavailableError(err):
		writeErr = utils.WriteServiceUnavailable(w, code, msg, time.Second)

	case services.IsPreconditionError(err):
		writeErr = utils.WriteError(w, http.StatusConflict, code, msg, details)

	case services.IsNotFoundError(err):
		writeErr = utils.WriteError(w, http.StatusNotFound, code, msg, details)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, msg, details)

	case services.IsRateLimitError(err):
		writeErr = utils.WriteTooManyRequests(w, msg, details)

	case services.IsNotConnectedError(err), services.IsExternalError(err):
		writeErr = utils.WriteError(w, http.StatusBadGateway, code, msg, details)

	case services.IsTimeoutError(err):
		writeErr = utils.WriteError(w, http.StatusGatewayTimeout, code, msg, details)

	case services.IsConfigurationError(err):
		logger.Error("configuration error", zap.Error(err))
		writeErr = utils.WriteError(w, http.StatusInternalServerError, code, msg, nil)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var details map[string]interface{}
	message := err.Error()

	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details = make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		message = "Validation failed"
	}

	if err := utils.WriteBadRequest(w, message, details); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
