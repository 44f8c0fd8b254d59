package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/authd"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId,omitempty"`
}

type userInfo struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	UserType    string   `json:"userType"`
	Permissions []string `json:"permissions"`
}

type tokenResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresIn    int64     `json:"expiresIn"`
	SessionID    string    `json:"sessionId"`
	UserInfo     *userInfo `json:"userInfo,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	AccessToken  string `json:"accessToken"`
}

type passwordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type lockRequest struct {
	Minutes int `json:"minutes"`
}

func toUserInfo(u *authd.User) *userInfo {
	if u == nil {
		return nil
	}
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return &userInfo{ID: u.ID, Username: u.Username, UserType: u.UserType, Permissions: perms}
}

func toTokenResponse(p *authd.TokenPair, u *authd.User) tokenResponse {
	return tokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,
		SessionID:    p.SessionID,
		UserInfo:     toUserInfo(u),
	}
}

func badRequest(op string, err error) error {
	return &authd.Error{Kind: authd.KindValidation, Op: op, Err: err}
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, badRequest("login", err))
	}
	ctx := c.Request().Context()
	sc := authd.SessionContextFrom(ctx)
	if req.DeviceID != "" {
		sc.DeviceID = req.DeviceID
	}
	res, err := s.svc.Login(ctx, authd.Credential{Username: req.Username, Password: req.Password}, sc)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toTokenResponse(&res.TokenPair, res.User))
}

// logout answers 200 for any presented token, valid or not.
func (s *Server) logout(c echo.Context) error {
	token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		return s.writeError(c, authd.ErrInvalidToken)
	}
	if err := s.svc.Logout(c.Request().Context(), token); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, badRequest("refresh", err))
	}
	token := strings.TrimSpace(c.Request().Header.Get(HeaderRefreshToken))
	if token == "" {
		token = strings.TrimSpace(req.RefreshToken)
	}
	if token == "" {
		token, _ = bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}
	if token == "" {
		return s.writeError(c, authd.ErrInvalidToken)
	}
	pair, err := s.svc.Refresh(c.Request().Context(), token, req.AccessToken)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toTokenResponse(pair, nil))
}

func (s *Server) me(c echo.Context) error {
	token, _ := c.Get(ctxTokenKey).(string)
	user, claims, err := s.svc.Me(c.Request().Context(), token)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user":      toUserInfo(user),
		"sessionId": claims.SessionID,
	})
}

func (s *Server) validate(c echo.Context) error {
	claims := claimsFrom(c)
	body := map[string]any{
		"valid":     true,
		"userId":    claims.UserID(),
		"sessionId": claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		body["expiresAt"] = claims.ExpiresAt.Time.UTC()
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) changePassword(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, badRequest("change_password", err))
	}
	claims := claimsFrom(c)
	if err := s.svc.ChangePassword(c.Request().Context(), claims.UserID(), req.OldPassword, req.NewPassword, "user_change"); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "password_changed"})
}

func (s *Server) sessions(c echo.Context) error {
	list, err := s.svc.ListSessions(c.Request().Context(), claimsFrom(c).UserID())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) health(c echo.Context) error {
	ctx, cancel := contextWithTimeout(c, 2*time.Second)
	defer cancel()
	if err := s.svc.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "op", "healthz", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

/*
====================================
ADMIN
====================================
*/

func (s *Server) adminLogoutUser(c echo.Context) error {
	n, err := s.svc.ForceLogoutUser(c.Request().Context(), c.Param("id"), "admin")
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"evicted": n})
}

func (s *Server) adminLogoutSession(c echo.Context) error {
	ok, err := s.svc.ForceLogoutSession(c.Request().Context(), c.Param("id"), "admin")
	if err != nil {
		return s.writeError(c, err)
	}
	if !ok {
		return s.writeError(c, authd.ErrNotFound)
	}
	return c.JSON(http.StatusOK, map[string]bool{"evicted": true})
}

func (s *Server) adminLock(c echo.Context) error {
	var req lockRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, badRequest("lock_account", err))
	}
	until, err := s.svc.LockAccount(c.Request().Context(), c.Param("id"), req.Minutes)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]time.Time{"lockedUntil": until.UTC()})
}

func (s *Server) adminUnlock(c echo.Context) error {
	if err := s.svc.UnlockAccount(c.Request().Context(), c.Param("id")); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "unlocked"})
}

func (s *Server) adminSessions(c echo.Context) error {
	list, err := s.svc.ListSessions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) adminCleanup(c echo.Context) error {
	n, err := s.svc.CleanupExpiredSessions(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) adminRetryStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.RetryStats())
}
