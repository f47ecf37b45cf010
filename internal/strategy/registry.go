package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a strategy from free-form parameters.
type Factory func(params map[string]any) (Strategy, error)

// UnknownStrategyError names the missing strategy and what is available.
type UnknownStrategyError struct {
	Name      string
	Available []string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown strategy %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]Factory)
)

// Register adds a strategy factory under a name. Later registrations
// overwrite earlier ones.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Available lists registered strategy names, sorted.
func Available() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds a registered strategy by name.
func Create(name string, params map[string]any) (Strategy, error) {
	registryMu.Lock()
	factory, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, &UnknownStrategyError{Name: name, Available: Available()}
	}
	return factory(params)
}
