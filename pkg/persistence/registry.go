package persistence

import (
	"fmt"
	"sync"
)

// ProviderConfig selects and configures a store backend.
type ProviderConfig struct {
	Type string `yaml:"type" json:"type"`

	// RedisAddr is used by the redis provider.
	RedisAddr string `yaml:"redisAddr" json:"redisAddr"`

	// KeyPrefix namespaces every collection key in shared backends.
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`
}

// StoreFactory creates a store from provider configuration.
type StoreFactory func(cfg ProviderConfig) (Store, error)

var (
	registry = make(map[string]StoreFactory)
	mu       sync.RWMutex
)

// RegisterProvider registers a store factory for a provider type.
func RegisterProvider(providerType string, factory StoreFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[providerType] = factory
}

// NewStore creates a store from provider configuration.
func NewStore(cfg ProviderConfig) (Store, error) {
	mu.RLock()
	factory, ok := registry[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown persistence provider %q", cfg.Type)
	}
	return factory(cfg)
}

// Providers lists the registered provider types.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
