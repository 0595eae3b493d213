package postgres

import (
	"context"
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id text PRIMARY KEY,
    username text NOT NULL,
    password_hash text NOT NULL,
    is_admin boolean NOT NULL DEFAULT false,
    is_banned boolean NOT NULL DEFAULT false,
    created_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_unique
ON users (LOWER(username));

CREATE TABLE IF NOT EXISTS user_sessions (
    token_hash text PRIMARY KEY,
    user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    username text NOT NULL,
    is_admin boolean NOT NULL DEFAULT false,
    is_banned boolean NOT NULL DEFAULT false,
    ip text NOT NULL DEFAULT '',
    user_agent text NOT NULL DEFAULT '',
    issued_at timestamptz NOT NULL,
    expires_at timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS user_sessions_user_id_idx ON user_sessions (user_id);
CREATE INDEX IF NOT EXISTS user_sessions_expires_at_idx ON user_sessions (expires_at);

CREATE TABLE IF NOT EXISTS security_audit_logs (
    id text PRIMARY KEY,
    user_id text NOT NULL DEFAULT '',
    event_type text NOT NULL,
    event_category text NOT NULL,
    severity text NOT NULL,
    source_ip text NOT NULL DEFAULT '',
    user_agent text NOT NULL DEFAULT '',
    resource_accessed text NOT NULL DEFAULT '',
    action_details jsonb NOT NULL DEFAULT '{}'::jsonb,
    success boolean NOT NULL,
    error_message text NOT NULL DEFAULT '',
    risk_score integer NOT NULL CHECK (risk_score BETWEEN 0 AND 100),
    threat_indicators text[] NOT NULL DEFAULT '{}',
    geo jsonb,
    created_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS security_audit_logs_created_at_idx ON security_audit_logs (created_at DESC);
CREATE INDEX IF NOT EXISTS security_audit_logs_user_id_idx ON security_audit_logs (user_id);
CREATE INDEX IF NOT EXISTS security_audit_logs_risk_idx ON security_audit_logs (risk_score);

CREATE TABLE IF NOT EXISTS security_incidents (
    id text PRIMARY KEY,
    incident_type text NOT NULL,
    severity text NOT NULL,
    status text NOT NULL DEFAULT 'open',
    affected_users text[] NOT NULL DEFAULT '{}',
    source_ips text[] NOT NULL DEFAULT '{}',
    indicators jsonb NOT NULL DEFAULT '[]'::jsonb,
    timeline jsonb NOT NULL DEFAULT '[]'::jsonb,
    created_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS security_incidents_status_idx ON security_incidents (status, created_at DESC);

CREATE TABLE IF NOT EXISTS user_mfa_settings (
    user_id text PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    totp_secret text NOT NULL DEFAULT '',
    backup_codes text[] NOT NULL DEFAULT '{}',
    is_enabled boolean NOT NULL DEFAULT false,
    last_used_at timestamptz,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW()
);
`

// Migrate creates the trustcore tables if they do not exist. It is safe to
// run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
