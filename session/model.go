package session

import "time"

// Activity is the record of one logged-in session. ID is the activity id carried in the
// tokens' "sid" claim; ExpiresAt follows the current refresh token.
type Activity struct {
	ID              string
	UserID          string
	Username        string
	UserType        string
	TokenID         string
	RefreshTokenID  string
	DeviceID        string
	ClientIP        string
	UserAgent       string
	CreatedAt       time.Time
	LastSeenAt      time.Time
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
}

// Live reports whether the activity has not yet expired at now.
func (a *Activity) Live(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}
