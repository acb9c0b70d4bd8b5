package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:evguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single writer avoids SQLITE_BUSY between concurrent forwards
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{
		db: db,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS alerts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts TEXT NOT NULL,
				rule_id TEXT NOT NULL,
				stream TEXT NOT NULL,
				alert_key TEXT NOT NULL,
				detail_json TEXT NOT NULL,
				text TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_rule_key ON alerts(rule_id, alert_key)`,
		},
		insert: `INSERT INTO alerts (ts, rule_id, stream, alert_key, detail_json, text)
			VALUES (?, ?, ?, ?, ?, ?)`,
	}}, nil
}
