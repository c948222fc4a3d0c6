package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Config carries the settings one adapter instance is built from.
type Config struct {
	ID        string
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
	Options   map[string]string
}

// Factory builds a Provider from its configuration.
type Factory func(cfg Config) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider kind available by name.
// It is typically called from an init() function in the adapter package.
func Register(kind string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("provider: duplicate registration for %q", kind))
	}
	factories[kind] = factory
}

// New creates a Provider of the given kind.
func New(kind string, cfg Config) (Provider, error) {
	mu.RLock()
	factory, ok := factories[kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider: unknown kind %q", kind)
	}
	return factory(cfg)
}

// Available returns the registered provider kinds in sorted order.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
