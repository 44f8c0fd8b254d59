package permission

import (
	"errors"
	"strings"
	"sync"
)

// Registry holds the set of known permission codes in registration order.
type Registry struct {
	mu      sync.RWMutex
	ordinal map[string]int
	names   []string
	frozen  bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ordinal: make(map[string]int)}
}

// Register adds a permission code and returns its ordinal. Codes may not contain commas
// because flattened permission strings are comma-joined.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return -1, errors.New("permission name cannot be empty")
	}
	if strings.Contains(name, ",") {
		return -1, errors.New("permission name cannot contain a comma")
	}
	if _, exists := r.ordinal[name]; exists {
		return -1, errors.New("permission already registered")
	}

	next := len(r.names)
	r.ordinal[name] = next
	r.names = append(r.names, name)
	return next, nil
}

// Ordinal returns the registration index of name.
func (r *Registry) Ordinal(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.ordinal[name]
	return n, ok
}

// Names returns all codes in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
