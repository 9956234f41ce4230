package candid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"launchpad/internal/principal"
)

var magic = []byte("DIDL")

// Encode serializes values according to types into a Candid message
func Encode(types []Type, values []any) ([]byte, error) {
	if len(types) != len(values) {
		return nil, fmt.Errorf("candid: %d types for %d values", len(types), len(values))
	}

	table := &typeTable{index: make(map[string]int64)}
	refs := make([]int64, len(types))
	for i, t := range types {
		refs[i] = table.ref(t)
	}

	var body bytes.Buffer
	for i, t := range types {
		if err := encodeValue(&body, t, values[i]); err != nil {
			return nil, fmt.Errorf("candid: argument %d: %w", i, err)
		}
	}

	var out bytes.Buffer
	out.Write(magic)
	writeUleb(&out, uint64(len(table.entries)))
	for _, entry := range table.entries {
		out.Write(entry)
	}
	writeUleb(&out, uint64(len(refs)))
	for _, r := range refs {
		writeSleb(&out, big.NewInt(r))
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// EncodeEmpty returns the encoding of an empty argument list
func EncodeEmpty() []byte {
	out, _ := Encode(nil, nil)
	return out
}

type typeTable struct {
	entries [][]byte
	index   map[string]int64
}

func (tt *typeTable) ref(t Type) int64 {
	if t.isPrimitive() {
		return primitiveOpcodes[t.Kind]
	}

	key := t.key()
	if idx, ok := tt.index[key]; ok {
		return idx
	}

	idx := int64(len(tt.entries))
	tt.index[key] = idx
	tt.entries = append(tt.entries, nil)

	var entry bytes.Buffer
	switch t.Kind {
	case KindOpt:
		writeSleb(&entry, big.NewInt(opOpt))
		writeSleb(&entry, big.NewInt(tt.ref(*t.Elem)))
	case KindVec:
		writeSleb(&entry, big.NewInt(opVec))
		writeSleb(&entry, big.NewInt(tt.ref(*t.Elem)))
	case KindRecord, KindVariant:
		op := int64(opRecord)
		if t.Kind == KindVariant {
			op = opVariant
		}
		writeSleb(&entry, big.NewInt(op))
		writeUleb(&entry, uint64(len(t.Fields)))
		for _, f := range t.Fields {
			writeUleb(&entry, uint64(Hash(f.Name)))
			writeSleb(&entry, big.NewInt(tt.ref(f.Type)))
		}
	}
	tt.entries[idx] = entry.Bytes()
	return idx
}

func encodeValue(w *bytes.Buffer, t Type, v any) error {
	switch t.Kind {
	case KindNull, KindReserved:
		return nil
	case KindEmpty:
		return fmt.Errorf("cannot encode a value of type empty")
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		if b {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
		return nil
	case KindNat:
		n, err := toBig(v)
		if err != nil {
			return err
		}
		if n.Sign() < 0 {
			return fmt.Errorf("nat cannot be negative: %s", n)
		}
		writeUlebBig(w, n)
		return nil
	case KindInt:
		n, err := toBig(v)
		if err != nil {
			return err
		}
		writeSleb(w, n)
		return nil
	case KindNat8, KindNat16, KindNat32, KindNat64:
		return encodeFixedUnsigned(w, t.Kind, v)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return encodeFixedSigned(w, t.Kind, v)
	case KindFloat32:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("expected float64, got %T", v)
		}
		return binary.Write(w, binary.LittleEndian, math.Float32bits(float32(f)))
	case KindFloat64:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("expected float64, got %T", v)
		}
		return binary.Write(w, binary.LittleEndian, math.Float64bits(f))
	case KindText:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		writeUleb(w, uint64(len(s)))
		w.WriteString(s)
		return nil
	case KindPrincipal:
		p, ok := v.(principal.Principal)
		if !ok {
			return fmt.Errorf("expected principal, got %T", v)
		}
		raw := p.Raw()
		w.WriteByte(1)
		writeUleb(w, uint64(len(raw)))
		w.Write(raw)
		return nil
	case KindOpt:
		if isNone(v) {
			w.WriteByte(0)
			return nil
		}
		w.WriteByte(1)
		return encodeValue(w, *t.Elem, v)
	case KindVec:
		return encodeVec(w, t, v)
	case KindRecord:
		fields, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected map[string]any for record, got %T", v)
		}
		for _, f := range t.Fields {
			fv, present := fields[f.Name]
			if !present && f.Type.Kind != KindOpt && f.Type.Kind != KindNull {
				return fmt.Errorf("record field %q is missing", f.Name)
			}
			if err := encodeValue(w, f.Type, fv); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		return nil
	case KindVariant:
		variant, ok := v.(Variant)
		if !ok {
			return fmt.Errorf("expected Variant, got %T", v)
		}
		for i, f := range t.Fields {
			if f.Name == variant.Name {
				writeUleb(w, uint64(i))
				return encodeValue(w, f.Type, variant.Value)
			}
		}
		return fmt.Errorf("variant has no alternative %q", variant.Name)
	}
	return fmt.Errorf("unsupported kind %d", t.Kind)
}

func encodeVec(w *bytes.Buffer, t Type, v any) error {
	if t.Elem.Kind == KindNat8 {
		if b, ok := v.([]byte); ok {
			writeUleb(w, uint64(len(b)))
			w.Write(b)
			return nil
		}
	}

	var items []any
	switch xs := v.(type) {
	case nil:
	case []any:
		items = xs
	case []principal.Principal:
		for _, p := range xs {
			items = append(items, p)
		}
	case []string:
		for _, s := range xs {
			items = append(items, s)
		}
	default:
		return fmt.Errorf("expected slice for vec, got %T", v)
	}

	writeUleb(w, uint64(len(items)))
	for i, item := range items {
		if err := encodeValue(w, *t.Elem, item); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func isNone(v any) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case *big.Int:
		return x == nil
	case []byte:
		return x == nil
	}
	return false
}

func encodeFixedUnsigned(w *bytes.Buffer, kind Kind, v any) error {
	n, err := toBig(v)
	if err != nil {
		return err
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return fmt.Errorf("value %s out of range", n)
	}
	u := n.Uint64()
	switch kind {
	case KindNat8:
		if u > math.MaxUint8 {
			return fmt.Errorf("value %d overflows nat8", u)
		}
		w.WriteByte(byte(u))
	case KindNat16:
		if u > math.MaxUint16 {
			return fmt.Errorf("value %d overflows nat16", u)
		}
		return binary.Write(w, binary.LittleEndian, uint16(u))
	case KindNat32:
		if u > math.MaxUint32 {
			return fmt.Errorf("value %d overflows nat32", u)
		}
		return binary.Write(w, binary.LittleEndian, uint32(u))
	case KindNat64:
		return binary.Write(w, binary.LittleEndian, u)
	}
	return nil
}

func encodeFixedSigned(w *bytes.Buffer, kind Kind, v any) error {
	n, err := toBig(v)
	if err != nil {
		return err
	}
	if !n.IsInt64() {
		return fmt.Errorf("value %s out of range", n)
	}
	i := n.Int64()
	switch kind {
	case KindInt8:
		if i < math.MinInt8 || i > math.MaxInt8 {
			return fmt.Errorf("value %d overflows int8", i)
		}
		w.WriteByte(byte(int8(i)))
	case KindInt16:
		if i < math.MinInt16 || i > math.MaxInt16 {
			return fmt.Errorf("value %d overflows int16", i)
		}
		return binary.Write(w, binary.LittleEndian, int16(i))
	case KindInt32:
		if i < math.MinInt32 || i > math.MaxInt32 {
			return fmt.Errorf("value %d overflows int32", i)
		}
		return binary.Write(w, binary.LittleEndian, int32(i))
	case KindInt64:
		return binary.Write(w, binary.LittleEndian, i)
	}
	return nil
}

func toBig(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("nil number")
		}
		return n, nil
	case big.Int:
		return &n, nil
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	default:
		return nil, fmt.Errorf("expected a number, got %T", v)
	}
}
