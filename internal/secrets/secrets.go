// Package secrets resolves credentials from environment variables, a local
// JSON file, or HashiCorp Vault. The environment is always consulted as a
// fallback so a deployment can override any backend.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Well-known secret keys.
const (
	KeyLLMAPIKey    = "llm_api_key"
	KeyDBConnString = "db_connection_string"
)

// Provider is the interface for secret backends.
type Provider interface {
	// Get retrieves a secret by key.
	Get(ctx context.Context, key string) (string, error)
	// Name returns the provider name.
	Name() string
}

// Config selects and configures the backend.
type Config struct {
	// Provider is one of "env", "file", "vault". Empty means env.
	Provider string
	// FilePath is the JSON secrets file for the file provider.
	FilePath string
	// Vault configures the vault provider.
	Vault *VaultConfig
	// EnvPrefix prefixes environment lookups (default "ASTRA_").
	EnvPrefix string
}

// Manager resolves secrets through a primary backend with the environment as
// fallback. Resolved values are cached for the life of the manager.
type Manager struct {
	primary  Provider
	fallback Provider

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager creates a manager for the configured backend.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	var primary Provider
	var err error
	switch cfg.Provider {
	case "vault":
		primary, err = NewVaultProvider(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("creating vault provider: %w", err)
		}
	case "file":
		primary, err = NewFileProvider(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("creating file provider: %w", err)
		}
	case "env", "":
		primary = NewEnvProvider(cfg.EnvPrefix)
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	return &Manager{
		primary:  primary,
		fallback: NewEnvProvider(cfg.EnvPrefix),
		cache:    make(map[string]string),
	}, nil
}

// Get retrieves a secret, trying the primary backend then the environment.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	if val, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return val, nil
	}
	m.mu.RUnlock()

	for _, p := range []Provider{m.primary, m.fallback} {
		val, err := p.Get(ctx, key)
		if err == nil && val != "" {
			m.mu.Lock()
			m.cache[key] = val
			m.mu.Unlock()
			return val, nil
		}
	}
	return "", fmt.Errorf("secret not found: %s", key)
}

// GetOrDefault retrieves a secret or returns defaultVal when it is absent.
func (m *Manager) GetOrDefault(ctx context.Context, key, defaultVal string) string {
	val, err := m.Get(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based secrets provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "ASTRA_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := p.prefix + strings.ToUpper(key)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if val := os.Getenv(strings.ToUpper(key)); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("env var not found: %s", envKey)
}
