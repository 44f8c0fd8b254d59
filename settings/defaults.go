package settings

// Keys of the security policy hash.
const (
	KeyPasswordHistoryEnabled = "password_history.enabled"
	KeyPasswordHistoryCount   = "password_history.count"
	KeyLockoutEnabled         = "lockout.enabled"
	KeyLockoutMaxAttempts     = "lockout.max_attempts"
	KeyLockoutDurationMinutes = "lockout.duration_minutes"
)

// Fallbacks is the single table of values used when a key is missing, unreadable or
// unparseable in the live source.
var Fallbacks = map[string]string{
	KeyPasswordHistoryEnabled: "true",
	KeyPasswordHistoryCount:   "5",
	KeyLockoutEnabled:         "true",
	KeyLockoutMaxAttempts:     "5",
	KeyLockoutDurationMinutes: "15",
}
