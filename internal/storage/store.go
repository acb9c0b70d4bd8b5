package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"evguard/internal/config"
	"evguard/internal/model"
)

// Store is the write-only alert journal. Nothing in the detector reads it back.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.AlertRecord) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type baseStore struct {
	db     *sql.DB
	schema []string
	insert string
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveAlert(ctx context.Context, alert model.AlertRecord) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.insert,
		alert.ObservedAt.UTC(),
		string(alert.RuleID),
		string(alert.Stream()),
		alert.Key,
		encodeJSON(alert.Detail),
		alert.String(),
	)
	return err
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

// Forwarder adapts a Store to the alert sink so every delivered alert is journaled.
type Forwarder struct {
	store Store
}

func NewForwarder(store Store) *Forwarder {
	return &Forwarder{store: store}
}

func (f *Forwarder) Name() string {
	return "journal"
}

func (f *Forwarder) Forward(ctx context.Context, alert model.AlertRecord) error {
	return f.store.SaveAlert(ctx, alert)
}
