package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/evguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{
		db: db,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS alerts (
				id BIGSERIAL PRIMARY KEY,
				ts TIMESTAMPTZ NOT NULL,
				rule_id TEXT NOT NULL,
				stream TEXT NOT NULL,
				alert_key TEXT NOT NULL,
				detail_json JSONB NOT NULL,
				text TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_rule_key ON alerts(rule_id, alert_key)`,
		},
		insert: `INSERT INTO alerts (ts, rule_id, stream, alert_key, detail_json, text)
			VALUES ($1, $2, $3, $4, $5, $6)`,
	}}, nil
}
