package runtimestate

import (
	"sync"

	"github.com/adpena/molt-sub005/value"
)

// ModuleTable maps an imported module's dotted name to its module object
// value, so a second `import foo.bar` returns the already-initialized
// module instead of re-running its body. Grounded on
// original_source/.../state/runtime_state.rs's module_cache field
// (Mutex<HashMap<String, u64>>, a raw bit pattern keyed by name); this
// wraps the same shape in the boxed value.V the rest of this module uses.
type ModuleTable struct {
	mu      sync.RWMutex
	modules map[string]value.V
}

// NewModuleTable constructs an empty table.
func NewModuleTable() *ModuleTable {
	return &ModuleTable{modules: make(map[string]value.V)}
}

// Get returns the module value registered under name, if any.
func (t *ModuleTable) Get(name string) (value.V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.modules[name]
	return v, ok
}

// Set registers v as the module value for name, overwriting any previous
// entry (a module re-import replaces the old binding rather than erroring).
func (t *ModuleTable) Set(name string, v value.V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules[name] = v
}

// Delete removes name's entry, if present.
func (t *ModuleTable) Delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.modules, name)
}

// Names returns every currently registered module name, in no particular
// order.
func (t *ModuleTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.modules))
	for name := range t.modules {
		names = append(names, name)
	}
	return names
}
