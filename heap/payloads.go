package heap

import "github.com/adpena/molt-sub005/value"

// Dict stores insertion-ordered key/value pairs plus a probe table of
// indices into that sequence ("two owning pointers to two growable
// sequences").
type Dict struct {
	Keys    []value.V
	Values  []value.V
	// Probe holds indices into Keys/Values in insertion order; the
	// intrinsics installer appends one per new key. Lookups (dictGet,
	// DictGetItem) scan Keys linearly and do not read Probe, and
	// DictSetItem does not extend it.
	Probe []int
}

func init() {
	RegisterDestructor(TypeDict, func(o *Object) {
		d := o.Payload.(*Dict)
		d.Keys = nil
		d.Values = nil
		d.Probe = nil
	})
}

// List is a growable, mutable sequence. Tuple reuses the same payload
// shape but is immutable (FlagImmutable is set at construction).
type List struct {
	Items []value.V
}

func init() {
	RegisterDestructor(TypeList, func(o *Object) { o.Payload.(*List).Items = nil })
	RegisterDestructor(TypeTuple, func(o *Object) { o.Payload.(*List).Items = nil })
}

// Str is an immutable interned or heap string. Cached holds a lazily
// computed UTF-8 validity/length cache, mirroring the original runtime's
// utf8_cache optimization for repeated length/indexing queries.
type Str struct {
	Data     string
	Cached   bool
	RuneLen  int
}

func init() {
	RegisterDestructor(TypeStr, func(o *Object) {})
}

// Bytes is a mutable byte buffer.
type Bytes struct {
	Data []byte
}

func init() {
	RegisterDestructor(TypeBytes, func(o *Object) { o.Payload.(*Bytes).Data = nil })
}

// NativeFunc is a C-ABI-shaped function pointer: it receives boxed
// argument Vs and returns a result V plus an error.
type NativeFunc func(args []value.V) (value.V, error)

// Func stores the entry point, arity, an attribute dict pointer, a
// closure value, and a trampoline.
type Func struct {
	Entry     NativeFunc
	Arity     int
	Attrs     value.V // pointer to a Dict, or value.None
	Closure   value.V
	Trampoline value.V
}

func init() {
	RegisterDestructor(TypeFunc, func(o *Object) {})
}

// BoundMethod stores self and the underlying function as two Vs.
type BoundMethod struct {
	Self value.V
	Func value.V
}

func init() {
	RegisterDestructor(TypeBoundMethod, func(o *Object) {})
}

// Type describes a class: its name, MRO, attribute dict, and an optional
// native initializer used by Call when the type itself is called.
type Type struct {
	Name  string
	MRO   []value.V // pointers to parent Types, most-derived first
	Attrs value.V   // pointer to a Dict
	Init  NativeFunc
}

func init() {
	RegisterDestructor(TypeType, func(o *Object) { o.Payload.(*Type).MRO = nil })
}

// Module stores a module's globals dict and its qualified name.
type Module struct {
	Name    string
	Globals value.V // pointer to a Dict
}

func init() {
	RegisterDestructor(TypeModule, func(o *Object) {})
}

// Dataclass is a fixed-shape record: a pointer to its Type and a slice of
// field values in declaration order.
type Dataclass struct {
	Class  value.V // pointer to a Type
	Fields []value.V
}

func init() {
	RegisterDestructor(TypeDataclass, func(o *Object) { o.Payload.(*Dataclass).Fields = nil })
}

// Buffer2D is a row-major 2D numeric buffer (the runtime's interop shape
// for array-like native extensions).
type Buffer2D struct {
	Data          []float64
	Rows, Cols    int
}

func init() {
	RegisterDestructor(TypeBuffer2D, func(o *Object) { o.Payload.(*Buffer2D).Data = nil })
}

// Handle is an opaque native-owned payload (e.g. a connpool.Pool handle,
// a file descriptor wrapper) that the runtime tracks but does not
// interpret.
type Handle struct {
	Native any
	Close  func(any) error
}

func init() {
	RegisterDestructor(TypeHandle, func(o *Object) {
		h := o.Payload.(*Handle)
		if h.Close != nil {
			_ = h.Close(h.Native)
		}
	})
}
