package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// DBConfig describes the pool used to reach the vault database.
type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// PingTimeout bounds the connectivity check in Open. Zero means five
	// seconds.
	PingTimeout time.Duration
}

// Open connects to the vault database through pgx and checks that it
// answers.
func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("vault dsn is required")
	}
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse vault dsn: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(max(cfg.MaxOpenConns, 0))
	db.SetConnMaxLifetime(max(cfg.ConnMaxLifetime, 0))

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping vault db: %w", err)
	}
	return db, nil
}

// Postgres resolves secrets from a Supabase-style vault schema. Secrets are
// matched by id or by name.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const getSecretSQL = `
SELECT decrypted_secret
FROM vault.decrypted_secrets
WHERE id::text = $1 OR name = $1
LIMIT 1`

func (p *Postgres) GetVaultSecret(ctx context.Context, id string) (string, bool, error) {
	var secret sql.NullString
	switch err := p.db.QueryRowContext(ctx, getSecretSQL, id).Scan(&secret); {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("get vault secret %q: %w", id, err)
	}
	return secret.String, secret.Valid, nil
}

const createSecretSQL = `SELECT vault.create_secret($1, $2)::text`

// Put stores value under name and returns the secret id. An existing secret
// with the same name is replaced where the vault schema allows it.
func (p *Postgres) Put(ctx context.Context, name, value string) (string, error) {
	var id string
	if err := p.db.QueryRowContext(ctx, createSecretSQL, value, name).Scan(&id); err != nil {
		return "", fmt.Errorf("create vault secret %q: %w", name, err)
	}
	return id, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
