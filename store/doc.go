// Package store defines the persisted records of trustcore and the repository
// contracts a backing datastore must satisfy.
//
// Five logical tables back the core: users, user_sessions,
// security_audit_logs, security_incidents and user_mfa_settings. Each has a
// repository interface here. Implementations live in sub-packages: memstore
// for tests and single-process hosts, postgres for production.
//
// Implementations must be safe for concurrent use and provide per-row
// atomicity. No operation requires a cross-row transaction.
package store
