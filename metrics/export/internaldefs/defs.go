package internaldefs

import (
	"github.com/MrEthical07/authd"
)

// CounterDef names one Coordinator counter for export.
type CounterDef struct {
	ID   authd.MetricID
	Name string
	Help string
}

// HistogramDef names one Coordinator latency histogram for export.
type HistogramDef struct {
	ID   authd.MetricID
	Name string
	Help string
}

// RetryDef names one field of authd.RetryStats for export.
type RetryDef struct {
	Name  string
	Help  string
	Value func(authd.RetryStats) uint64
}

var CounterDefs = []CounterDef{
	{ID: authd.MetricLoginSuccess, Name: "authd_login_success_total", Help: "Successful logins."},
	{ID: authd.MetricLoginFailure, Name: "authd_login_failure_total", Help: "Logins rejected for bad credentials or disabled accounts."},
	{ID: authd.MetricLoginRateLimited, Name: "authd_login_rate_limited_total", Help: "Logins rejected by the per-IP throttle."},
	{ID: authd.MetricLoginLocked, Name: "authd_login_locked_total", Help: "Logins rejected because the account was locked."},
	{ID: authd.MetricRefreshSuccess, Name: "authd_refresh_success_total", Help: "Successful token rotations."},
	{ID: authd.MetricRefreshFailure, Name: "authd_refresh_failure_total", Help: "Failed token rotations."},
	{ID: authd.MetricRefreshReplay, Name: "authd_refresh_replay_total", Help: "Refresh tokens presented more than once."},
	{ID: authd.MetricLogout, Name: "authd_logout_total", Help: "Logout calls."},
	{ID: authd.MetricValidateSuccess, Name: "authd_validate_success_total", Help: "Accepted access tokens."},
	{ID: authd.MetricValidateFailure, Name: "authd_validate_failure_total", Help: "Rejected access tokens."},
	{ID: authd.MetricSessionCreated, Name: "authd_session_created_total", Help: "Sessions recorded."},
	{ID: authd.MetricSessionEvicted, Name: "authd_session_evicted_total", Help: "Sessions evicted by the per-user limit."},
	{ID: authd.MetricForcedLogout, Name: "authd_forced_logout_total", Help: "Sessions removed by forced logout."},
	{ID: authd.MetricAccountLocked, Name: "authd_account_locked_total", Help: "Account locks, automatic and administrative."},
	{ID: authd.MetricAccountUnlocked, Name: "authd_account_unlocked_total", Help: "Administrative unlocks."},
	{ID: authd.MetricPasswordChangeSuccess, Name: "authd_password_change_success_total", Help: "Successful password changes."},
	{ID: authd.MetricPasswordChangeReuseRejected, Name: "authd_password_change_reuse_rejected_total", Help: "Password changes rejected for reuse."},
	{ID: authd.MetricSessionsSwept, Name: "authd_sessions_swept_total", Help: "Expired sessions removed by the sweep."},
}

var HistogramDefs = []HistogramDef{
	{ID: authd.MetricValidateLatency, Name: "authd_validate_latency_seconds", Help: "Validate latency histogram."},
}

var RetryDefs = []RetryDef{
	{Name: "authd_retry_attempts_total", Help: "Optimistic write attempts.", Value: func(s authd.RetryStats) uint64 { return s.TotalAttempts }},
	{Name: "authd_retry_successful_retries_total", Help: "Operations that succeeded after at least one conflict.", Value: func(s authd.RetryStats) uint64 { return s.SuccessfulRetries }},
	{Name: "authd_retry_failed_retries_total", Help: "Operations that exhausted their retries.", Value: func(s authd.RetryStats) uint64 { return s.FailedRetries }},
	{Name: "authd_retry_conflicts_total", Help: "Version conflicts observed.", Value: func(s authd.RetryStats) uint64 { return s.ConflictsObserved }},
}

const AuditDroppedName = "authd_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

// HistogramBounds are the Prometheus "le" labels of the latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are the bucket bounds as instrument name suffixes.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
