package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/audit"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   trustcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   trustcore.MetricID
	Name string
	Help string
}

// AuditDef names one audit pipeline counter.
type AuditDef struct {
	Name  string
	Help  string
	Value func(audit.Stats) uint64
}

var CounterDefs = []CounterDef{
	{ID: trustcore.MetricLoginSuccess, Name: "trustcore_login_success_total", Help: "Successful logins."},
	{ID: trustcore.MetricLoginFailure, Name: "trustcore_login_failure_total", Help: "Logins rejected for bad credentials or MFA code."},
	{ID: trustcore.MetricLoginRateLimited, Name: "trustcore_login_rate_limited_total", Help: "Logins rejected by the login limiter."},
	{ID: trustcore.MetricLoginBanned, Name: "trustcore_login_banned_total", Help: "Logins rejected because the user is banned."},
	{ID: trustcore.MetricMFARequired, Name: "trustcore_mfa_required_total", Help: "Logins that stopped at the MFA challenge."},
	{ID: trustcore.MetricMFASuccess, Name: "trustcore_mfa_success_total", Help: "Successful MFA verifications."},
	{ID: trustcore.MetricMFAFailure, Name: "trustcore_mfa_failure_total", Help: "Failed MFA verifications."},
	{ID: trustcore.MetricBackupCodeUsed, Name: "trustcore_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: trustcore.MetricBackupCodeRegenerated, Name: "trustcore_backup_code_regenerated_total", Help: "Backup code set replacements."},
	{ID: trustcore.MetricSessionCreated, Name: "trustcore_session_created_total", Help: "Sessions issued."},
	{ID: trustcore.MetricSessionValidated, Name: "trustcore_session_validated_total", Help: "Sessions accepted by ValidateSession."},
	{ID: trustcore.MetricSessionRejected, Name: "trustcore_session_rejected_total", Help: "Sessions rejected by ValidateSession."},
	{ID: trustcore.MetricSessionExpired, Name: "trustcore_session_expired_total", Help: "Expired session rows deleted on access."},
	{ID: trustcore.MetricSessionBanRevoked, Name: "trustcore_session_ban_revoked_total", Help: "Sessions revoked because the user was banned."},
	{ID: trustcore.MetricLogout, Name: "trustcore_logout_total", Help: "Single-session logouts."},
	{ID: trustcore.MetricLogoutAll, Name: "trustcore_logout_all_total", Help: "Logout-all operations."},
	{ID: trustcore.MetricSessionsSwept, Name: "trustcore_sessions_swept_total", Help: "Expired sessions removed by the sweeper."},
	{ID: trustcore.MetricMessageAllowed, Name: "trustcore_message_allowed_total", Help: "Message sends authorized."},
	{ID: trustcore.MetricMessageRateLimited, Name: "trustcore_message_rate_limited_total", Help: "Message sends rejected by the message limiter."},
	{ID: trustcore.MetricUserRegistered, Name: "trustcore_user_registered_total", Help: "Accounts created."},
	{ID: trustcore.MetricUserBanned, Name: "trustcore_user_banned_total", Help: "Ban operations."},
}

var HistogramDefs = []HistogramDef{
	{ID: trustcore.MetricValidateLatency, Name: "trustcore_validate_latency_seconds", Help: "ValidateSession latency."},
}

var AuditDefs = []AuditDef{
	{Name: "trustcore_audit_recorded_total", Help: "Audit events persisted.", Value: func(s audit.Stats) uint64 { return s.Recorded }},
	{Name: "trustcore_audit_failures_total", Help: "Audit events that could not be persisted.", Value: func(s audit.Stats) uint64 { return s.Failures }},
	{Name: "trustcore_audit_dropped_total", Help: "Audit events dropped by dispatcher backpressure.", Value: func(s audit.Stats) uint64 { return s.Dropped }},
	{Name: "trustcore_incidents_total", Help: "Security incidents opened.", Value: func(s audit.Stats) uint64 { return s.Incidents }},
	{Name: "trustcore_incident_failures_total", Help: "Incidents that could not be persisted.", Value: func(s audit.Stats) uint64 { return s.IncidentFailures }},
}

// BucketCount is the number of latency buckets, the last one unbounded.
const BucketCount = 8

// HistogramBounds are the finite bucket upper bounds in seconds.
var HistogramBounds = trustcore.HistogramBounds

// HistogramBoundSuffix returns a metric-name-safe label for bucket i.
func HistogramBoundSuffix(i int) string {
	if i >= len(HistogramBounds) {
		return "inf"
	}
	return strings.ReplaceAll(strconv.FormatFloat(HistogramBounds[i], 'f', -1, 64), ".", "_")
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
