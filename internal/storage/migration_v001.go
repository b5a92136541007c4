package storage

import "database/sql"

// migrateV001 creates the initial tabrecall schema: users, auth tokens,
// sessions, tabs, events, and vectors. Every statement uses IF NOT EXISTS
// for idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS auth_tokens (
			token_hash   TEXT PRIMARY KEY,
			refresh_hash TEXT NOT NULL UNIQUE,
			user_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at   DATETIME NOT NULL,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			user_id        INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title          TEXT NOT NULL DEFAULT '',
			summary        TEXT,
			confidence     REAL NOT NULL DEFAULT 0,
			started_at     DATETIME NOT NULL,
			last_active_at DATETIME NOT NULL,
			screenshot_ref TEXT,
			mode           TEXT NOT NULL DEFAULT 'loose' CHECK (mode IN ('strict', 'loose')),
			CHECK (last_active_at >= started_at)
		)`,

		`CREATE TABLE IF NOT EXISTS tabs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			url           TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			pinned        BOOLEAN NOT NULL DEFAULT 0,
			order_idx     INTEGER NOT NULL,
			first_seen_at DATETIME NOT NULL,
			last_seen_at  DATETIME NOT NULL,
			UNIQUE(session_id, order_idx)
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT NOT NULL UNIQUE,
			user_id   INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			window_id INTEGER NOT NULL DEFAULT 0,
			tab_id    INTEGER NOT NULL DEFAULT 0,
			type      TEXT NOT NULL CHECK (type IN ('open', 'update', 'activate', 'close')),
			title     TEXT NOT NULL DEFAULT '',
			url       TEXT NOT NULL,
			ts        DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS vectors (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_type TEXT NOT NULL CHECK (owner_type IN ('session', 'tab', 'query')),
			owner_id   TEXT NOT NULL,
			model      TEXT NOT NULL DEFAULT '',
			dimensions INTEGER NOT NULL,
			embedding  BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(owner_type, owner_id)
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_sessions_user        ON sessions(user_id, last_active_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_mode        ON sessions(mode)`,
		`CREATE INDEX IF NOT EXISTS idx_tabs_session         ON tabs(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_ts       ON events(user_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_user     ON auth_tokens(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_refresh  ON auth_tokens(refresh_hash)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
