package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cory-johannsen/gamehost/internal/game"
)

// BuiltinScheme prefixes module paths served by Builtins.
const BuiltinScheme = "builtin:"

// Provider resolves a module path and class name to a factory.
type Provider interface {
	// Handles reports whether the provider understands path.
	Handles(path string) bool
	// Resolve loads the module at path and returns a factory for class.
	//
	// Postcondition: Returns an error wrapping ErrClassNotFound when the
	// module loads but lacks class.
	Resolve(path, class string) (game.Factory, error)
}

// Builtins serves modules compiled into the binary under "builtin:<module>".
type Builtins struct {
	mu      sync.RWMutex
	modules map[string]map[string]game.Factory
}

// NewBuiltins creates an empty builtin provider.
func NewBuiltins() *Builtins {
	return &Builtins{modules: make(map[string]map[string]game.Factory)}
}

// Register adds factory as class within module.
//
// Precondition: module and class must be non-empty; factory must be non-nil.
// Postcondition: A later Register with the same module and class replaces the earlier one.
func (b *Builtins) Register(module, class string, factory game.Factory) {
	if module == "" || class == "" || factory == nil {
		panic("plugin.Builtins.Register: precondition violated")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	classes, ok := b.modules[module]
	if !ok {
		classes = make(map[string]game.Factory)
		b.modules[module] = classes
	}
	classes[class] = factory
}

// Modules lists registered module names.
func (b *Builtins) Modules() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.modules))
	for m := range b.modules {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (b *Builtins) Handles(path string) bool {
	return strings.HasPrefix(path, BuiltinScheme)
}

func (b *Builtins) Resolve(path, class string) (game.Factory, error) {
	module := strings.TrimPrefix(path, BuiltinScheme)
	b.mu.RLock()
	defer b.mu.RUnlock()
	classes, ok := b.modules[module]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModulePathNotFound, path)
	}
	f, ok := classes[class]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrClassNotFound, class, path)
	}
	return f, nil
}
