package fdw

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

// Options is a string-keyed option map attached to a server, table or
// import statement.
type Options map[string]string

func (o Options) Get(key string) (string, bool) {
	if o == nil {
		return "", false
	}
	value, ok := o[key]
	return value, ok
}

func (o Options) Require(key string) (string, error) {
	value, ok := o.Get(key)
	if !ok {
		return "", OptionMissing(key)
	}
	return value, nil
}

func (o Options) GetOr(key, fallback string) string {
	if value, ok := o.Get(key); ok {
		return value
	}
	return fallback
}

func (o Options) Bool(key string, fallback bool) (bool, error) {
	raw, ok := o.Get(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, ValueParse("bool option "+key, raw, nil)
	}
}

func (o Options) Int(key string, fallback int) (int, error) {
	raw, ok := o.Get(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, ValueParse("int option "+key, raw, err)
	}
	return value, nil
}

func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for key := range o {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (o Options) Clone() Options {
	out := make(Options, len(o))
	for key, value := range o {
		out[key] = value
	}
	return out
}

type ForeignServer struct {
	Name    string
	Wrapper string
	Options Options
}

// SecretResolver looks up a vault secret by id or name.
type SecretResolver interface {
	GetVaultSecret(ctx context.Context, id string) (string, bool, error)
}

// RequireSecretOption reads key directly, or falls back to key+"_id" and
// resolves that id through the vault.
func RequireSecretOption(ctx context.Context, opts Options, key string, secrets SecretResolver) (string, error) {
	if value, ok := opts.Get(key); ok {
		return value, nil
	}
	idKey := key + "_id"
	id, ok := opts.Get(idKey)
	if !ok {
		return "", OptionMissing(key + " or " + idKey)
	}
	if secrets == nil {
		return "", SecretNotFound(id)
	}
	value, found, err := secrets.GetVaultSecret(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", SecretNotFound(id)
	}
	return value, nil
}
