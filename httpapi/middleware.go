package httpapi

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/authd"
)

const (
	ctxClaimsKey = "authd.claims"
	ctxTokenKey  = "authd.token"

	maxSignedBody = 1 << 20
)

// RequestLogger logs one line per request at a level chosen by status class. Paths are
// logged without query strings; headers and bodies are never logged.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(c.Request().Context(), level, "http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"route", c.Path(),
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", c.RealIP(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return nil
		}
	}
}

// sessionContext copies the caller's address, user agent and device id into the
// request context for the Coordinator.
func sessionContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := authd.WithClientIP(req.Context(), c.RealIP())
		ctx = authd.WithUserAgent(ctx, req.UserAgent())
		if dev := req.Header.Get(HeaderDeviceID); dev != "" {
			ctx = authd.WithDeviceID(ctx, dev)
		}
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

// requireBearer validates the access token and stores its claims on the context.
func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return s.writeError(c, authd.ErrInvalidToken)
		}
		claims, err := s.svc.Validate(c.Request().Context(), token)
		if err != nil {
			return s.writeError(c, err)
		}
		c.Set(ctxClaimsKey, claims)
		c.Set(ctxTokenKey, token)
		return next(c)
	}
}

// requireSignature verifies the HMAC request signature. The body is buffered and
// restored for the handler.
func (s *Server) requireSignature(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		var body []byte
		if req.Body != nil {
			b, err := io.ReadAll(io.LimitReader(req.Body, maxSignedBody))
			if err != nil {
				return s.writeError(c, &authd.Error{Kind: authd.KindValidation, Op: "signature", Err: err})
			}
			body = b
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		if err := s.verifier.Verify(req.Context(), req.Method, req.URL.RequestURI(), req.Header, body); err != nil {
			return s.writeSignatureError(c, err)
		}
		return next(c)
	}
}

func claimsFrom(c echo.Context) *authd.Claims {
	claims, _ := c.Get(ctxClaimsKey).(*authd.Claims)
	return claims
}

func bearerToken(value string) (string, bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func contextWithTimeout(c echo.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), d)
}
