// Package httpapi exposes the Coordinator over HTTP with echo.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MrEthical07/authd"
	"github.com/MrEthical07/authd/signature"
)

const (
	HeaderRefreshToken = "X-Refresh-Token"
	HeaderDeviceID     = "X-Device-ID"
)

// Service is the part of *authd.Coordinator the HTTP layer uses.
type Service interface {
	Login(ctx context.Context, cred authd.Credential, sc authd.SessionContext) (*authd.LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken, accessToken string) (*authd.TokenPair, error)
	Validate(ctx context.Context, accessToken string) (*authd.Claims, error)
	Me(ctx context.Context, accessToken string) (*authd.User, *authd.Claims, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword, reason string) error
	ListSessions(ctx context.Context, userID string) ([]authd.SessionInfo, error)
	ForceLogoutUser(ctx context.Context, userID, reason string) (int, error)
	ForceLogoutSession(ctx context.Context, sessionID, reason string) (bool, error)
	LockAccount(ctx context.Context, userID string, minutes int) (time.Time, error)
	UnlockAccount(ctx context.Context, userID string) error
	CleanupExpiredSessions(ctx context.Context) (int, error)
	RetryStats() authd.RetryStats
	Ping(ctx context.Context) error
}

// Options configures New.
type Options struct {
	Logger *slog.Logger
	// Verifier guards /admin. Without one the admin routes are not mounted.
	Verifier *signature.Verifier
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// DetailedErrors adds traceId and details to error bodies.
	DetailedErrors bool
	// TrustedProxies lists the peers whose X-Forwarded-For is believed. With none, the
	// client IP is the TCP peer address and forwarding headers are ignored.
	TrustedProxies []*net.IPNet
}

// Server holds handler dependencies.
type Server struct {
	svc      Service
	logger   *slog.Logger
	verifier *signature.Verifier
	detailed bool
}

// ipExtractor trusts X-Forwarded-For hops only from the listed ranges. echo's own
// loopback and private-network defaults are switched off.
func ipExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// New returns an echo instance with every route mounted.
func New(svc Service, opts Options) *echo.Echo {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger, verifier: opts.Verifier, detailed: opts.DetailedErrors}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler
	e.IPExtractor = ipExtractor(opts.TrustedProxies)

	e.Use(middleware.RequestID())
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(sessionContext)

	e.GET("/healthz", s.health)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	g := e.Group("/auth")
	g.POST("/login", s.login)
	g.POST("/logout", s.logout)
	g.POST("/refresh", s.refresh)
	g.GET("/me", s.me, s.requireBearer)
	g.GET("/validate", s.validate, s.requireBearer)
	g.POST("/password", s.changePassword, s.requireBearer)
	g.GET("/sessions", s.sessions, s.requireBearer)

	if s.verifier != nil {
		admin := e.Group("/admin", s.requireSignature)
		admin.POST("/users/:id/logout", s.adminLogoutUser)
		admin.POST("/sessions/:id/logout", s.adminLogoutSession)
		admin.POST("/users/:id/lock", s.adminLock)
		admin.POST("/users/:id/unlock", s.adminUnlock)
		admin.GET("/users/:id/sessions", s.adminSessions)
		admin.POST("/sessions/cleanup", s.adminCleanup)
		admin.GET("/retry-stats", s.adminRetryStats)
	}
	return e
}

// httpErrorHandler renders echo's own errors (unknown route, bad method, panics) in the
// common error body.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	status := http.StatusInternalServerError
	code := authd.KindInternal.String()
	message := authd.KindInternal.Message()
	if errors.As(err, &he) {
		status = he.Code
		code = http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("unhandled error", "op", "http", "path", c.Path(), "error", err)
	}
	body := ErrorBody{Code: code, Message: message}
	if s.detailed {
		body.TraceID = c.Response().Header().Get(echo.HeaderXRequestID)
		body.Details = err.Error()
	}
	_ = c.JSON(status, body)
}
