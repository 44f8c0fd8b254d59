package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/authd"
	"github.com/MrEthical07/authd/signature"
)

// StatusFor maps every error kind to its HTTP status.
func StatusFor(kind authd.ErrorKind) int {
	switch kind {
	case authd.KindValidation:
		return http.StatusBadRequest
	case authd.KindInvalidCredentials, authd.KindInvalidToken:
		return http.StatusUnauthorized
	case authd.KindAccountLocked:
		return http.StatusLocked
	case authd.KindAccountDisabled:
		return http.StatusForbidden
	case authd.KindNotFound:
		return http.StatusNotFound
	case authd.KindPasswordReused:
		return http.StatusConflict
	case authd.KindRateLimited:
		return http.StatusTooManyRequests
	case authd.KindRetryExhausted, authd.KindUnavailable:
		return http.StatusServiceUnavailable
	case authd.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON body of every error response. TraceID and Details are only set
// when detailed errors are enabled.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"traceId,omitempty"`
	Details string `json:"details,omitempty"`
}

func (s *Server) writeError(c echo.Context, err error) error {
	kind := authd.KindOf(err)
	body := ErrorBody{Code: kind.String(), Message: kind.Message()}
	if s.detailed {
		body.TraceID = c.Response().Header().Get(echo.HeaderXRequestID)
		body.Details = err.Error()
	}
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "op", "http", "path", c.Path(), "kind", kind.String(), "error", err)
	}
	return c.JSON(status, body)
}

func (s *Server) writeSignatureError(c echo.Context, err error) error {
	if errors.Is(err, signature.ErrMissing) || errors.Is(err, signature.ErrInvalid) ||
		errors.Is(err, signature.ErrExpired) || errors.Is(err, signature.ErrReplay) {
		return s.writeError(c, &authd.Error{Kind: authd.KindInvalidToken, Op: "signature", Err: err})
	}
	return s.writeError(c, &authd.Error{Kind: authd.KindUnavailable, Op: "signature", Err: err})
}
