package permission

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

// Table maps a user type to its permission codes. Unknown user types resolve to no
// permissions.
type Table struct {
	registry *Registry

	mu     sync.RWMutex
	types  map[string][]string
	frozen bool
}

// NewTable returns a Table validating codes against registry.
func NewTable(registry *Registry) *Table {
	return &Table{
		registry: registry,
		types:    make(map[string][]string),
	}
}

// Register sets the permissions of userType. Codes are de-duplicated and stored in
// registry order so flattened output is stable.
func (t *Table) Register(userType string, codes ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return errors.New("permission table frozen")
	}
	if userType == "" {
		return errors.New("user type empty")
	}
	if _, exists := t.types[userType]; exists {
		return errors.New("user type already registered")
	}

	seen := make(map[string]struct{}, len(codes))
	resolved := make([]string, 0, len(codes))
	for _, code := range codes {
		if _, ok := t.registry.Ordinal(code); !ok {
			return errors.New("permission not registered: " + code)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		resolved = append(resolved, code)
	}
	slices.SortFunc(resolved, func(a, b string) int {
		oa, _ := t.registry.Ordinal(a)
		ob, _ := t.registry.Ordinal(b)
		return oa - ob
	})

	t.types[userType] = resolved
	return nil
}

// Resolve returns a copy of the codes granted to userType.
func (t *Table) Resolve(userType string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.types[userType])
}

// Flatten returns the comma-joined codes of userType, the form carried in tokens.
func (t *Table) Flatten(userType string) string {
	return strings.Join(t.Resolve(userType), ",")
}

// Freeze prevents further registrations.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// Count returns the number of registered user types.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.types)
}

// Build registers every code mentioned in grants, then every user type, and freezes both.
func Build(grants map[string][]string) (*Table, error) {
	userTypes := make([]string, 0, len(grants))
	for userType := range grants {
		userTypes = append(userTypes, userType)
	}
	slices.Sort(userTypes)

	reg := NewRegistry()
	for _, userType := range userTypes {
		for _, code := range grants[userType] {
			if _, ok := reg.Ordinal(code); ok {
				continue
			}
			if _, err := reg.Register(code); err != nil {
				return nil, err
			}
		}
	}
	reg.Freeze()

	table := NewTable(reg)
	for _, userType := range userTypes {
		if err := table.Register(userType, grants[userType]...); err != nil {
			return nil, err
		}
	}
	table.Freeze()
	return table, nil
}

// Has reports whether the flattened permission string contains code.
func Has(flattened, code string) bool {
	for _, p := range strings.Split(flattened, ",") {
		if p == code {
			return true
		}
	}
	return false
}
