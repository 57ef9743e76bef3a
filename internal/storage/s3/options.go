package s3

import (
	"context"

	"github.com/duckmesh/wrappers/internal/fdw"
)

// ConfigFromOptions reads s3_* server options. The secret key may be given
// directly or as s3_secret_access_key_id through the vault. ok is false when
// no s3_endpoint is set.
func ConfigFromOptions(ctx context.Context, opts fdw.Options, secrets fdw.SecretResolver) (Config, bool, error) {
	endpoint := opts.GetOr("s3_endpoint", "")
	if endpoint == "" {
		return Config{}, false, nil
	}
	bucket, err := opts.Require("s3_bucket")
	if err != nil {
		return Config{}, false, err
	}
	useSSL, err := opts.Bool("s3_use_ssl", false)
	if err != nil {
		return Config{}, false, err
	}
	cfg := Config{
		Endpoint:    endpoint,
		Region:      opts.GetOr("s3_region", "us-east-1"),
		Bucket:      bucket,
		AccessKeyID: opts.GetOr("s3_access_key_id", ""),
		UseSSL:      useSSL,
		Prefix:      opts.GetOr("s3_prefix", ""),
	}
	if cfg.AccessKeyID != "" {
		secret, err := fdw.RequireSecretOption(ctx, opts, "s3_secret_access_key", secrets)
		if err != nil {
			return Config{}, false, err
		}
		cfg.SecretAccessKey = secret
	}
	return cfg, true, nil
}
