package fdwctl

import (
	"context"
	"io"

	"github.com/duckmesh/wrappers/internal/config"
	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/vault"
)

// SecretEnvPrefix namespaces secrets read from the environment, so secret id
// "ch-password" resolves from DUCKMESH_SECRET_CH_PASSWORD.
const SecretEnvPrefix = "DUCKMESH_SECRET_"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenSecrets resolves secrets from the vault database when one is configured
// and from the environment otherwise or as a fallback.
func OpenSecrets(ctx context.Context, cfg config.Config, lookup vault.LookupFunc) (fdw.SecretResolver, io.Closer, error) {
	env := vault.Env{Prefix: SecretEnvPrefix, Lookup: lookup}
	if cfg.Vault.DSN == "" {
		return env, nopCloser{}, nil
	}
	db, err := vault.Open(ctx, vault.DBConfig{
		DSN:             cfg.Vault.DSN,
		MaxOpenConns:    cfg.Vault.MaxOpenConns,
		ConnMaxLifetime: cfg.Vault.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	pg := vault.NewPostgres(db)
	return vault.Chain{pg, env}, pg, nil
}
