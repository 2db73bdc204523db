package shared

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotConnected       = errors.New("not connected")
	ErrNoDevice           = errors.New("no capture device available")
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrDecodeFailure      = errors.New("decode failure")
	ErrTransport          = errors.New("transport error")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ApplicationError is an error reported by the caption server inside an
// "error" frame. It never affects the connection.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}

type APIError struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"No captions received yet"`
	Details any    `json:"details,omitempty"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func BadRequest(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadRequest)
}

func NotFound(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusNotFound)
}
