package heap

import (
	"github.com/adpena/molt-sub005/excstack"
	"github.com/adpena/molt-sub005/value"
)

// Call invokes the callable value v with args, dispatching on its
// object's TypeID via a single switch rather than a virtual method table.
// Grounded on the original runtime's
// call_callable0/1/2/3 jump table in call/dispatch.rs, generalized to a
// variadic Go signature since Go has no arity-specialized call ABI to
// mirror.
func Call(reg *value.Registry, v value.V, args []value.V) (value.V, error) {
	o, ok := asObject(reg, v)
	if !ok {
		return value.None, excstack.NewTypeError("object is not callable")
	}

	switch o.typeID {
	case TypeFunc:
		fn := o.Payload.(*Func)
		if fn.Entry == nil {
			return value.None, excstack.NewRuntimeError("function has no entry point")
		}
		if fn.Arity >= 0 && len(args) != fn.Arity {
			return value.None, excstack.NewTypeError("expected %d arguments, got %d", fn.Arity, len(args))
		}
		return fn.Entry(args)

	case TypeBoundMethod:
		bm := o.Payload.(*BoundMethod)
		fnObj, ok := asObject(reg, bm.Func)
		if !ok || fnObj.typeID != TypeFunc {
			return value.None, excstack.NewRuntimeError("bound method's underlying function is not live")
		}
		fn := fnObj.Payload.(*Func)
		if fn.Entry == nil {
			return value.None, excstack.NewRuntimeError("function has no entry point")
		}
		full := make([]value.V, 0, len(args)+1)
		full = append(full, bm.Self)
		full = append(full, args...)
		return fn.Entry(full)

	case TypeType:
		t := o.Payload.(*Type)
		if t.Init == nil {
			return value.None, excstack.NewTypeError("type %s has no initializer", t.Name)
		}
		return t.Init(args)

	case TypeDataclass, TypeModule, TypeDict:
		// Fall back to an attribute lookup of "__call__" and recurse once,
		// matching the original's object-shaped-record fallback.
		callAttr, err := GetAttr(reg, v, "__call__")
		if err != nil {
			return value.None, excstack.NewTypeError("%s object is not callable", o.typeID)
		}
		callObj, ok := asObject(reg, callAttr)
		if !ok || (callObj.typeID != TypeFunc && callObj.typeID != TypeBoundMethod) {
			return value.None, excstack.NewTypeError("%s object is not callable", o.typeID)
		}
		return Call(reg, callAttr, args)

	default:
		return value.None, excstack.NewTypeError("%s object is not callable", o.typeID)
	}
}

// Arity returns the callable's expected argument count. A bound method
// reports its underlying function's arity minus the implicit self (a
// negative, variadic arity is passed through unchanged); any object that
// is not a function or bound method reports -1.
func Arity(reg *value.Registry, v value.V) (int, error) {
	o, ok := asObject(reg, v)
	if !ok {
		return 0, excstack.NewTypeError("object is not callable")
	}
	switch o.typeID {
	case TypeFunc:
		return o.Payload.(*Func).Arity, nil
	case TypeBoundMethod:
		bm := o.Payload.(*BoundMethod)
		fnObj, ok := asObject(reg, bm.Func)
		if !ok || fnObj.typeID != TypeFunc {
			return 0, excstack.NewRuntimeError("bound method's underlying function is not live")
		}
		arity := fnObj.Payload.(*Func).Arity
		if arity < 0 {
			return arity, nil
		}
		return arity - 1, nil
	default:
		return -1, nil
	}
}

// GetAttr looks up name on v's object. Dict/Module consult their own
// entries/globals; Dataclass and Type consult the class attribute dict
// and then walk the MRO.
func GetAttr(reg *value.Registry, v value.V, name string) (value.V, error) {
	o, ok := asObject(reg, v)
	if !ok {
		return value.None, excstack.NewTypeError("object has no attributes")
	}
	switch o.typeID {
	case TypeDict:
		return dictGet(reg, v, name)
	case TypeModule:
		return dictGet(reg, o.Payload.(*Module).Globals, name)
	case TypeType:
		t := o.Payload.(*Type)
		if attr, err := dictGet(reg, t.Attrs, name); err == nil {
			return attr, nil
		}
		for _, parent := range t.MRO {
			if attr, err := GetAttr(reg, parent, name); err == nil {
				return attr, nil
			}
		}
		return value.None, excstack.NewLookupError("type %s has no attribute %q", t.Name, name)
	case TypeDataclass:
		dc := o.Payload.(*Dataclass)
		classObj, ok := asObject(reg, dc.Class)
		if ok && classObj.typeID == TypeType {
			return GetAttr(reg, dc.Class, name)
		}
		return value.None, excstack.NewLookupError("object has no attribute %q", name)
	default:
		return value.None, excstack.NewLookupError("%s object has no attribute %q", o.typeID, name)
	}
}

func dictGet(reg *value.Registry, v value.V, name string) (value.V, error) {
	o, ok := asObject(reg, v)
	if !ok || o.typeID != TypeDict {
		return value.None, excstack.NewLookupError("attribute %q not found", name)
	}
	d := o.Payload.(*Dict)
	for i, k := range d.Keys {
		ko, ok := asObject(reg, k)
		if ok && ko.typeID == TypeStr && ko.Payload.(*Str).Data == name {
			return d.Values[i], nil
		}
	}
	return value.None, excstack.NewLookupError("attribute %q not found", name)
}

// keyEqual decides dict-key equality for a general (not attribute-name)
// key lookup. Non-pointer Vs (int, float, bool, none, pending) compare by
// raw bit pattern: FromFloat already canonicalizes every NaN input to the
// single canonicalNaNBits payload, so two independently-produced NaN keys
// are bit-identical by the time they reach here and a plain Bits()
// comparison reproduces CPython's identity-preserving NaN dict-key
// behavior without ever decoding to float64 and hitting Go's NaN != NaN.
// Pointer Vs additionally fall back to interned-string content equality,
// since two distinct Str objects holding the same text must still count
// as the same key.
func keyEqual(reg *value.Registry, a, b value.V) bool {
	if a.Bits() == b.Bits() {
		return true
	}
	ao, aok := asObject(reg, a)
	bo, bok := asObject(reg, b)
	if aok && bok && ao.typeID == TypeStr && bo.typeID == TypeStr {
		return ao.Payload.(*Str).Data == bo.Payload.(*Str).Data
	}
	return false
}

// DictGetItem looks up key in the dict value dictV using keyEqual, the
// general counterpart to dictGet's attribute-name-only lookup.
func DictGetItem(reg *value.Registry, dictV value.V, key value.V) (value.V, bool) {
	o, ok := asObject(reg, dictV)
	if !ok || o.typeID != TypeDict {
		return value.None, false
	}
	d := o.Payload.(*Dict)
	for i, k := range d.Keys {
		if keyEqual(reg, k, key) {
			return d.Values[i], true
		}
	}
	return value.None, false
}

// DictSetItem inserts or overwrites key in the dict value dictV, using
// keyEqual to find an existing entry to overwrite.
func DictSetItem(reg *value.Registry, dictV value.V, key, val value.V) error {
	o, ok := asObject(reg, dictV)
	if !ok || o.typeID != TypeDict {
		return excstack.NewTypeError("object is not a dict")
	}
	d := o.Payload.(*Dict)
	for i, k := range d.Keys {
		if keyEqual(reg, k, key) {
			d.Values[i] = val
			return nil
		}
	}
	d.Keys = append(d.Keys, key)
	d.Values = append(d.Values, val)
	return nil
}
