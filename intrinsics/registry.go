// Package intrinsics implements Molt's install-time binding of C-ABI
// builtin symbols into the builtins namespace: the install_into_builtins
// step the code generator relies on at startup.
//
// Grounded on original_source/runtime/molt-runtime/src/intrinsics/registry.rs's
// install_into_builtins: resolve each entry's symbol, wrap it as a function
// object, and insert it into the builtins dict under both its generated
// name and a `_molt_<tail>` alias, plus the same binding again under a
// `_molt_intrinsics` sub-dict. The wrapper is a plain heap.Func; it is not
// tagged with any builtin-function class. The installer is idempotent.
package intrinsics

import (
	"strings"
	"sync"

	"github.com/adpena/molt-sub005/excstack"
	"github.com/adpena/molt-sub005/heap"
	"github.com/adpena/molt-sub005/value"
)

// RegistryDictName is the sub-dict name every installed intrinsic is also
// inserted under.
const RegistryDictName = "_molt_intrinsics"

// Entry describes one generated table row: (name, symbol, arity). Symbol
// resolution stands in for the code generator's build-time symbol table
// (out of scope for this runtime); native builtin packages populate it by
// calling Register at init() time.
type Entry struct {
	Name   string
	Symbol string
	Arity  int
}

var (
	symbolsMu sync.RWMutex
	symbols   = make(map[string]heap.NativeFunc)
)

// Register binds symbol to a native implementation. Intended to be called
// from the init() function of a package implementing builtin functions
// (the runtime's analogue of a generated extern "C" symbol).
func Register(symbol string, fn heap.NativeFunc) {
	symbolsMu.Lock()
	defer symbolsMu.Unlock()
	symbols[symbol] = fn
}

func resolve(symbol string) (heap.NativeFunc, bool) {
	symbolsMu.RLock()
	defer symbolsMu.RUnlock()
	fn, ok := symbols[symbol]
	return fn, ok
}

// Install installs every entry in table into builtins, which must be a
// pointer V to a heap.Dict object, and its attribute dict alloc'd through
// alloc. Idempotent: if builtins already has a RegistryDictName sub-dict,
// Install returns immediately without error.
func Install(alloc *heap.Allocator, reg *value.Registry, builtins value.V, table []Entry) error {
	builtinsObj, err := heap.Resolve(reg, builtins)
	if err != nil {
		return err
	}
	dict, ok := builtinsObj.Payload.(*heap.Dict)
	if !ok {
		return excstack.NewTypeError("builtins must be a dict")
	}

	if dictHasStrKey(reg, dict, RegistryDictName) {
		return nil
	}

	intrinsicsV := alloc.Alloc(heap.TypeDict, &heap.Dict{})
	intrinsicsObj, _ := heap.Resolve(reg, intrinsicsV)
	intrinsicsDict := intrinsicsObj.Payload.(*heap.Dict)

	for _, e := range table {
		fn, ok := resolve(e.Symbol)
		if !ok {
			return excstack.NewRuntimeError("intrinsic symbol %q is not registered", e.Symbol)
		}

		fnV := alloc.Alloc(heap.TypeFunc, &heap.Func{
			Entry: fn,
			Arity: e.Arity,
		})

		alias := "_molt_" + strings.TrimPrefix(e.Name, "molt_")

		dictSetStrKey(alloc, reg, dict, e.Name, fnV)
		dictSetStrKey(alloc, reg, dict, alias, fnV)
		dictSetStrKey(alloc, reg, intrinsicsDict, e.Name, fnV)
	}

	dictSetStrKey(alloc, reg, dict, RegistryDictName, intrinsicsV)
	return nil
}

func dictHasStrKey(reg *value.Registry, d *heap.Dict, name string) bool {
	for _, k := range d.Keys {
		ko, err := heap.Resolve(reg, k)
		if err == nil {
			if s, ok := ko.Payload.(*heap.Str); ok && s.Data == name {
				return true
			}
		}
	}
	return false
}

func dictSetStrKey(alloc *heap.Allocator, reg *value.Registry, d *heap.Dict, name string, v value.V) {
	for i, k := range d.Keys {
		ko, err := heap.Resolve(reg, k)
		if err == nil {
			if s, ok := ko.Payload.(*heap.Str); ok && s.Data == name {
				d.Values[i] = v
				return
			}
		}
	}
	keyV := alloc.Alloc(heap.TypeStr, &heap.Str{Data: name})
	d.Keys = append(d.Keys, keyV)
	d.Values = append(d.Values, v)
	d.Probe = append(d.Probe, len(d.Keys)-1)
}
