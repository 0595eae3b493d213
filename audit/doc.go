// Package audit records security events, scores them for risk and raises
// incidents for the ones that cross a threshold.
//
// Detection is table driven. Signatures holds the substring lists for each
// indicator and the scanner user-agent list; DefaultSignatures covers the
// common attack markers and LoadSignatures reads additional tables from YAML.
//
// Recording is best-effort from the caller's point of view: LogSecurityEvent
// never returns an error, and failures are reported only to the operational
// log.
package audit
