package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/erictom97/gender-age/detections"
	"github.com/erictom97/gender-age/logger"
	"github.com/erictom97/gender-age/models"
)

// APIError is an error with the HTTP status and code a client sees.
type APIError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

var (
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrBadRequest       = errors.New("invalid request")
	ErrTooManyRequests  = &APIError{Status: http.StatusTooManyRequests, Code: "too_many_requests", Message: "Too many requests"}
)

type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// errorFor maps pipeline and transport errors onto the API error table.
func errorFor(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return &APIError{Status: http.StatusRequestEntityTooLarge, Code: "payload_too_large", Message: "Image exceeds the upload limit", Cause: err}
	case errors.Is(err, ErrUnsupportedMedia):
		return &APIError{Status: http.StatusUnsupportedMediaType, Code: "unsupported_media_type", Message: "Only JPEG and PNG images are accepted", Cause: err}
	case errors.Is(err, detections.ErrDecode):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_image", Message: "Failed to decode image", Cause: err}
	case errors.Is(err, ErrBadRequest):
		return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "Invalid request", Cause: err}
	case errors.Is(err, ErrPoolTimeout), errors.Is(err, ErrPoolClosed):
		return &APIError{Status: http.StatusServiceUnavailable, Code: "session_error", Message: "No model set available", Cause: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &APIError{Status: http.StatusServiceUnavailable, Code: "request_cancelled", Message: "Request cancelled", Cause: err}
	case errors.Is(err, detections.ErrInference), errors.Is(err, models.ErrUnknownClass):
		return &APIError{Status: http.StatusInternalServerError, Code: "processing_error", Message: "Failed to process image", Cause: err}
	default:
		return &APIError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "Internal server error", Cause: err}
	}
}

// sendError logs err and writes its envelope. Server errors carry a trace
// ID the client can report.
func sendError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	apiErr := errorFor(err)
	requestID := logger.RequestID(r.Context())

	fields := logger.Fields{
		logger.RequestIDKey: requestID,
		"path":              r.URL.Path,
		"operation":         operation,
		"code":              apiErr.Code,
		"error":             err.Error(),
	}

	details := ""
	if apiErr.Status >= http.StatusInternalServerError {
		details = "trace_id: " + logger.ErrorWithTraceID(fields, "request failed")
	} else {
		logger.Warn(fields, "request rejected")
		if apiErr.Cause != nil {
			details = apiErr.Cause.Error()
		}
	}

	sendErrorResponse(w, apiErr.Code, apiErr.Message, details, requestID, apiErr.Status)
}

func sendErrorResponse(w http.ResponseWriter, code, message, details, requestID string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: requestID,
	})
}
