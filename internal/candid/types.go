// Package candid implements the subset of the Candid binary format used to talk to
// the management canister, cycles wallets and ICRC-1 token canisters.
package candid

import (
	"sort"
	"strconv"
	"strings"
)

// Kind identifies a Candid type constructor
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNat
	KindInt
	KindNat8
	KindNat16
	KindNat32
	KindNat64
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindText
	KindReserved
	KindEmpty
	KindPrincipal
	KindOpt
	KindVec
	KindRecord
	KindVariant
)

// Wire opcodes, as signed LEB128 values
const (
	opNull      = -1
	opBool      = -2
	opNat       = -3
	opInt       = -4
	opNat8      = -5
	opNat16     = -6
	opNat32     = -7
	opNat64     = -8
	opInt8      = -9
	opInt16     = -10
	opInt32     = -11
	opInt64     = -12
	opFloat32   = -13
	opFloat64   = -14
	opText      = -15
	opReserved  = -16
	opEmpty     = -17
	opOpt       = -18
	opVec       = -19
	opRecord    = -20
	opVariant   = -21
	opFunc      = -22
	opService   = -23
	opPrincipal = -24
)

var primitiveOpcodes = map[Kind]int64{
	KindNull:      opNull,
	KindBool:      opBool,
	KindNat:       opNat,
	KindInt:       opInt,
	KindNat8:      opNat8,
	KindNat16:     opNat16,
	KindNat32:     opNat32,
	KindNat64:     opNat64,
	KindInt8:      opInt8,
	KindInt16:     opInt16,
	KindInt32:     opInt32,
	KindInt64:     opInt64,
	KindFloat32:   opFloat32,
	KindFloat64:   opFloat64,
	KindText:      opText,
	KindReserved:  opReserved,
	KindEmpty:     opEmpty,
	KindPrincipal: opPrincipal,
}

// Type describes a Candid value type used for encoding
type Type struct {
	Kind   Kind
	Elem   *Type
	Fields []Field
}

// Field is a named member of a record or variant
type Field struct {
	Name string
	Type Type
}

// Primitive types
var (
	Null      = Type{Kind: KindNull}
	Bool      = Type{Kind: KindBool}
	Nat       = Type{Kind: KindNat}
	Int       = Type{Kind: KindInt}
	Nat8      = Type{Kind: KindNat8}
	Nat16     = Type{Kind: KindNat16}
	Nat32     = Type{Kind: KindNat32}
	Nat64     = Type{Kind: KindNat64}
	Int64     = Type{Kind: KindInt64}
	Float64   = Type{Kind: KindFloat64}
	Text      = Type{Kind: KindText}
	Reserved  = Type{Kind: KindReserved}
	Principal = Type{Kind: KindPrincipal}
	Blob      = Vec(Nat8)
)

// Opt builds opt t
func Opt(t Type) Type {
	return Type{Kind: KindOpt, Elem: &t}
}

// Vec builds vec t
func Vec(t Type) Type {
	return Type{Kind: KindVec, Elem: &t}
}

// RecordOf builds a record type, ordering fields by label hash
func RecordOf(fields ...Field) Type {
	return Type{Kind: KindRecord, Fields: sortFields(fields)}
}

// VariantOf builds a variant type, ordering alternatives by label hash
func VariantOf(fields ...Field) Type {
	return Type{Kind: KindVariant, Fields: sortFields(fields)}
}

// F is shorthand for a record or variant field
func F(name string, t Type) Field {
	return Field{Name: name, Type: t}
}

func sortFields(fields []Field) []Field {
	sorted := append([]Field{}, fields...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Hash(sorted[i].Name) < Hash(sorted[j].Name)
	})
	return sorted
}

// Hash returns the label id of a field name. Purely numeric names are
// tuple positions and map to themselves.
func Hash(name string) uint32 {
	if id, err := strconv.ParseUint(name, 10, 32); err == nil {
		return uint32(id)
	}
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h*223 + uint32(name[i])
	}
	return h
}

// key is a structural identity used to de-duplicate type table entries
func (t Type) key() string {
	var b strings.Builder
	t.writeKey(&b)
	return b.String()
}

func (t Type) writeKey(b *strings.Builder) {
	b.WriteString(strconv.Itoa(int(t.Kind)))
	switch t.Kind {
	case KindOpt, KindVec:
		b.WriteByte('(')
		t.Elem.writeKey(b)
		b.WriteByte(')')
	case KindRecord, KindVariant:
		b.WriteByte('{')
		for _, f := range t.Fields {
			b.WriteString(strconv.FormatUint(uint64(Hash(f.Name)), 10))
			b.WriteByte(':')
			f.Type.writeKey(b)
			b.WriteByte(';')
		}
		b.WriteByte('}')
	}
}

func (t Type) isPrimitive() bool {
	_, ok := primitiveOpcodes[t.Kind]
	return ok
}
