package candid

import (
	"fmt"
	"math/big"

	"launchpad/internal/principal"
)

// Variant is a tagged value. Encoders read Name; decoded variants carry
// only the label Hash, so use Is to match them.
type Variant struct {
	Name  string
	Hash  uint32
	Value any
}

// Is reports whether the variant alternative is the one called name
func (v Variant) Is(name string) bool {
	if v.Name != "" {
		return v.Name == name
	}
	return v.Hash == Hash(name)
}

// Record is a decoded record keyed by label hash
type Record map[uint32]any

// Get looks a field up by name
func (r Record) Get(name string) (any, bool) {
	v, ok := r[Hash(name)]
	return v, ok
}

// Nat returns a nat/int field
func (r Record) Nat(name string) (*big.Int, error) {
	v, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("record has no field %q", name)
	}
	return AsNat(v)
}

// Text returns a text field
func (r Record) Text(name string) (string, error) {
	v, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("record has no field %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is %T, not text", name, v)
	}
	return s, nil
}

// Principal returns a principal field
func (r Record) Principal(name string) (principal.Principal, error) {
	v, ok := r.Get(name)
	if !ok {
		return principal.Principal{}, fmt.Errorf("record has no field %q", name)
	}
	p, ok := v.(principal.Principal)
	if !ok {
		return principal.Principal{}, fmt.Errorf("field %q is %T, not principal", name, v)
	}
	return p, nil
}

// Blob returns a blob field, treating an absent or none value as empty
func (r Record) Blob(name string) ([]byte, error) {
	v, ok := r.Get(name)
	if !ok || v == nil {
		return nil, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("field %q is %T, not blob", name, v)
	}
	return b, nil
}

// Variant returns a variant field
func (r Record) Variant(name string) (Variant, error) {
	v, ok := r.Get(name)
	if !ok {
		return Variant{}, fmt.Errorf("record has no field %q", name)
	}
	return AsVariant(v)
}

// AsNat converts any decoded integer into a big.Int
func AsNat(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int64:
		return big.NewInt(n), nil
	default:
		return nil, fmt.Errorf("value is %T, not a number", v)
	}
}

// AsRecord asserts a decoded value is a record
func AsRecord(v any) (Record, error) {
	r, ok := v.(Record)
	if !ok {
		return nil, fmt.Errorf("value is %T, not a record", v)
	}
	return r, nil
}

// AsVariant asserts a decoded value is a variant
func AsVariant(v any) (Variant, error) {
	variant, ok := v.(Variant)
	if !ok {
		return Variant{}, fmt.Errorf("value is %T, not a variant", v)
	}
	return variant, nil
}

// Describe renders a decoded value with field names resolved from names,
// falling back to the numeric id. Used for error diagnostics.
func Describe(v any, names ...string) any {
	lookup := make(map[uint32]string, len(names))
	for _, n := range names {
		lookup[Hash(n)] = n
	}
	return describe(v, lookup)
}

func describe(v any, names map[uint32]string) any {
	label := func(h uint32) string {
		if n, ok := names[h]; ok {
			return n
		}
		return fmt.Sprintf("_%d_", h)
	}
	switch x := v.(type) {
	case Record:
		out := make(map[string]any, len(x))
		for h, fv := range x {
			out[label(h)] = describe(fv, names)
		}
		return out
	case Variant:
		name := x.Name
		if name == "" {
			name = label(x.Hash)
		}
		return map[string]any{name: describe(x.Value, names)}
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = describe(e, names)
		}
		return out
	case *big.Int:
		return x.String()
	case principal.Principal:
		return x.String()
	default:
		return v
	}
}
