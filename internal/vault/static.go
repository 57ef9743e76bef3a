package vault

import (
	"context"
	"os"
	"strings"
	"sync"
)

// Static is an in-memory secret store keyed by secret id or name.
type Static struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewStatic(secrets map[string]string) *Static {
	copied := make(map[string]string, len(secrets))
	for k, v := range secrets {
		copied[k] = v
	}
	return &Static{secrets: copied}
}

func (s *Static) Put(id, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secrets == nil {
		s.secrets = map[string]string{}
	}
	s.secrets[id] = value
}

func (s *Static) GetVaultSecret(_ context.Context, id string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.secrets[id]
	return value, ok, nil
}

type LookupFunc func(string) (string, bool)

// Env resolves secret id "x-y" from the variable Prefix+"X_Y".
type Env struct {
	Prefix string
	Lookup LookupFunc
}

func (e Env) GetVaultSecret(_ context.Context, id string) (string, bool, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	key := e.Prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
	value, ok := lookup(key)
	return value, ok, nil
}
