// Package httperror shapes errors the way the Daraja APIs spell them on the
// wire: a requestId, a dotted errorCode and a human errorMessage.
package httperror

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httpjson"
)

type APIError struct {
	StatusCode   int    `json:"-"`
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	// Err wraps the original error; never serialized.
	Err error `json:"-"`
	// internalDescription is captured by the request-logging middleware but
	// never sent to the client.
	internalDescription string
}

func (e *APIError) Error() string {
	return e.ErrorMessage
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// WithInternal attaches an operator-facing description for the API log.
func (e *APIError) WithInternal(description string) *APIError {
	e.internalDescription = description
	return e
}

func (e *APIError) InternalDescription() string {
	return e.internalDescription
}

// internalDescKey is the context slot the logging middleware reads back.
type internalDescKey struct{}

// NewInternalDescriptionHolder prepares a context that Render can write the
// internal description into.
func NewInternalDescriptionHolder(ctx context.Context) (context.Context, *string) {
	holder := new(string)
	return context.WithValue(ctx, internalDescKey{}, holder), holder
}

func (e *APIError) Render(ctx context.Context, w http.ResponseWriter) {
	if holder, ok := ctx.Value(internalDescKey{}).(*string); ok && e.internalDescription != "" {
		*holder = e.internalDescription
	}
	httpjson.RenderStatus(w, e.StatusCode, e)
}

func New(statusCode int, errorCode, errorMessage string, originalErr error) *APIError {
	return &APIError{
		StatusCode:   statusCode,
		RequestID:    uuid.NewString(),
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		Err:          originalErr,
	}
}

// InvalidAuthentication is the canonical OAuth Basic failure.
func InvalidAuthentication(originalErr error) *APIError {
	return New(http.StatusBadRequest, "400.008.01", "Invalid Authentication passed", originalErr)
}

// InvalidAccessToken rejects a missing, unknown or expired bearer token.
func InvalidAccessToken(originalErr error) *APIError {
	return New(http.StatusUnauthorized, "404.001.03", "Invalid Access Token", originalErr)
}

func BadRequest(errorCode, errorMessage string, originalErr error) *APIError {
	if errorMessage == "" {
		errorMessage = "Bad Request - Invalid Request Payload"
	}
	if errorCode == "" {
		errorCode = "400.002.02"
	}
	return New(http.StatusBadRequest, errorCode, errorMessage, originalErr)
}

func NotFound(errorMessage string, originalErr error) *APIError {
	if errorMessage == "" {
		errorMessage = "Resource not found"
	}
	return New(http.StatusNotFound, "404.001.04", errorMessage, originalErr)
}

// URLsAlreadyRegistered is the C2B register conflict; Daraja reports it as a
// 400 with its own code.
func URLsAlreadyRegistered(originalErr error) *APIError {
	return New(http.StatusBadRequest, "400.003.01", "URLs are already registered for this short code", originalErr)
}

func InternalError(ctx context.Context, originalErr error) *APIError {
	logrus.WithContext(ctx).Errorf("internal server error: %+v", originalErr)
	return New(http.StatusInternalServerError, "500.001.1001", "Internal Server Error", originalErr)
}
