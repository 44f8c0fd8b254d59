package authd

import (
	"strings"
	"time"

	"github.com/MrEthical07/authd/account"
	"github.com/MrEthical07/authd/jwt"
	"github.com/MrEthical07/authd/retry"
	"github.com/MrEthical07/authd/session"
)

// Credential is a login attempt. It is never persisted or logged.
type Credential struct {
	Username string
	Password string
}

// String redacts the password so a Credential is safe in formatted output.
func (c Credential) String() string {
	return "Credential{Username:" + c.Username + " Password:[redacted]}"
}

// GoString redacts the password for %#v.
func (c Credential) GoString() string { return c.String() }

// SessionContext is the client metadata recorded with a new session.
type SessionContext struct {
	ClientIP  string
	UserAgent string
	DeviceID  string
}

// User is the authenticated view of an account.
type User struct {
	ID          string
	Username    string
	UserType    string
	Status      account.Status
	Permissions []string
}

func userFromAccount(a *account.Account, permissions string) *User {
	u := &User{
		ID:       a.ID,
		Username: a.Username,
		UserType: a.UserType,
		Status:   a.Status,
	}
	if permissions != "" {
		u.Permissions = strings.Split(permissions, ",")
	}
	return u
}

// TokenPair is a freshly issued access and refresh token. ExpiresIn is the access token
// lifetime in seconds.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int64
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is what a successful Login returns.
type LoginResult struct {
	TokenPair
	User *User
}

// Claims is the validated content of an access token.
type Claims = jwt.Claims

// SessionInfo describes one active session.
type SessionInfo struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	DeviceID   string    `json:"deviceId,omitempty"`
	ClientIP   string    `json:"clientIp,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func sessionInfo(a *session.Activity) SessionInfo {
	return SessionInfo{
		ID:         a.ID,
		UserID:     a.UserID,
		DeviceID:   a.DeviceID,
		ClientIP:   a.ClientIP,
		UserAgent:  a.UserAgent,
		CreatedAt:  a.CreatedAt,
		LastSeenAt: a.LastSeenAt,
		ExpiresAt:  a.ExpiresAt,
	}
}

// RetryStats is a snapshot of the optimistic retry counters.
type RetryStats = retry.Stats
