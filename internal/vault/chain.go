package vault

import (
	"context"

	"github.com/duckmesh/wrappers/internal/fdw"
)

// Chain asks each resolver in order and returns the first hit.
type Chain []fdw.SecretResolver

func (c Chain) GetVaultSecret(ctx context.Context, id string) (string, bool, error) {
	for _, resolver := range c {
		if resolver == nil {
			continue
		}
		value, ok, err := resolver.GetVaultSecret(ctx, id)
		if err != nil {
			return "", false, err
		}
		if ok {
			return value, true, nil
		}
	}
	return "", false, nil
}
