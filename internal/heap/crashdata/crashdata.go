// Package crashdata is the tree-building sink the crash reporter fills.
//
// A Value is one node of a structured-data tree: a dictionary with
// ordered keys, a list, or a leaf (integer, address, string, blob, null).
// The tree is deliberately dumb; all policy about which fields exist and
// when lives in the populator. A deterministic JSON-style renderer
// (json.go) turns a tree into the stable textual representation the
// crash-analysis pipeline ingests.
package crashdata

// Kind discriminates the node variants of a Value.
type Kind uint8

const (
	// KindNull is an explicit null leaf.
	KindNull Kind = iota
	// KindInteger is a decimal-rendered unsigned integer leaf.
	KindInteger
	// KindAddress is a fixed-width hex-rendered integer leaf.
	KindAddress
	// KindString is a quoted string leaf.
	KindString
	// KindBlob is a raw byte snapshot leaf.
	KindBlob
	// KindList is an ordered sequence of values.
	KindList
	// KindDict is an ordered key/value mapping.
	KindDict
)

// Entry is one key/value pair of a dictionary. Order of insertion is
// order of rendering; determinism of the output depends on it.
type Entry struct {
	Key   string
	Value *Value
}

// Value is one node of the tree.
type Value struct {
	kind    Kind
	integer uint64
	str     string
	blob    []byte
	list    []*Value
	dict    []Entry
}

// Kind returns the node variant.
func (v *Value) Kind() Kind {
	return v.kind
}

// Null returns an explicit null leaf.
func Null() *Value {
	return &Value{kind: KindNull}
}

// Integer returns a decimal integer leaf.
func Integer(n uint64) *Value {
	return &Value{kind: KindInteger, integer: n}
}

// Address returns a hex-rendered address leaf.
func Address(addr uint64) *Value {
	return &Value{kind: KindAddress, integer: addr}
}

// String returns a string leaf.
func String(s string) *Value {
	return &Value{kind: KindString, str: s}
}

// Blob returns a byte-snapshot leaf. The Value takes ownership of data.
func Blob(data []byte) *Value {
	return &Value{kind: KindBlob, blob: data}
}

// NewList returns an empty list node.
func NewList() *Value {
	return &Value{kind: KindList}
}

// Append adds an element to a list node and returns the list for
// chaining. Appending to a non-list is ignored.
func (v *Value) Append(elem *Value) *Value {
	if v.kind == KindList && elem != nil {
		v.list = append(v.list, elem)
	}
	return v
}

// Elements returns the elements of a list node.
func (v *Value) Elements() []*Value {
	return v.list
}

// NewDict returns an empty dictionary node.
func NewDict() *Value {
	return &Value{kind: KindDict}
}

// Add appends a key/value entry to a dictionary node and returns the
// dictionary for chaining. Adding to a non-dict is ignored.
func (v *Value) Add(key string, val *Value) *Value {
	if v.kind == KindDict && val != nil {
		v.dict = append(v.dict, Entry{Key: key, Value: val})
	}
	return v
}

// Entries returns the ordered entries of a dictionary node.
func (v *Value) Entries() []Entry {
	return v.dict
}

// Get returns the value stored under key in a dictionary node, or nil.
func (v *Value) Get(key string) *Value {
	for i := range v.dict {
		if v.dict[i].Key == key {
			return v.dict[i].Value
		}
	}
	return nil
}
