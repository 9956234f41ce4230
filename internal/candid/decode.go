package candid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"launchpad/internal/principal"
)

// maxDepth bounds nesting so hostile messages cannot blow the stack
const maxDepth = 64

type wireField struct {
	hash uint32
	ref  int64
}

type wireType struct {
	op     int64
	elem   int64
	fields []wireField
}

type decoder struct {
	r     *reader
	table []wireType
}

// Decode parses a Candid message into generic values:
// nat/int as *big.Int, fixed-width naturals as uint64, fixed-width integers
// as int64, floats as float64, blobs as []byte, vectors as []any, options as
// nil or the inner value, records as Record and variants as Variant.
func Decode(data []byte) ([]any, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("candid: missing DIDL magic")
	}
	d := &decoder{r: &reader{data: data, pos: len(magic)}}

	if err := d.readTable(); err != nil {
		return nil, fmt.Errorf("candid: type table: %w", err)
	}

	count, err := d.r.uleb()
	if err != nil {
		return nil, fmt.Errorf("candid: argument count: %w", err)
	}
	if count > uint64(d.r.remaining()) {
		return nil, fmt.Errorf("candid: argument count %d exceeds input", count)
	}

	refs := make([]int64, count)
	for i := range refs {
		if refs[i], err = d.r.sleb(); err != nil {
			return nil, fmt.Errorf("candid: argument type %d: %w", i, err)
		}
		if err := d.checkRef(refs[i]); err != nil {
			return nil, fmt.Errorf("candid: argument type %d: %w", i, err)
		}
	}

	values := make([]any, count)
	for i, ref := range refs {
		if values[i], err = d.value(ref, 0); err != nil {
			return nil, fmt.Errorf("candid: argument %d: %w", i, err)
		}
	}
	return values, nil
}

// DecodeOne decodes a message that must carry at least one value and returns the first
func DecodeOne(data []byte) (any, error) {
	values, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("candid: message carries no values")
	}
	return values[0], nil
}

func (d *decoder) readTable() error {
	n, err := d.r.uleb()
	if err != nil {
		return err
	}
	if n > uint64(d.r.remaining()) {
		return fmt.Errorf("table length %d exceeds input", n)
	}

	d.table = make([]wireType, n)
	for i := range d.table {
		op, err := d.r.sleb()
		if err != nil {
			return err
		}
		entry := wireType{op: op}
		switch op {
		case opOpt, opVec:
			if entry.elem, err = d.r.sleb(); err != nil {
				return err
			}
		case opRecord, opVariant:
			count, err := d.r.uleb()
			if err != nil {
				return err
			}
			if count > uint64(d.r.remaining()) {
				return fmt.Errorf("field count %d exceeds input", count)
			}
			entry.fields = make([]wireField, count)
			for j := range entry.fields {
				hash, err := d.r.uleb()
				if err != nil {
					return err
				}
				if hash > math.MaxUint32 {
					return fmt.Errorf("field id %d overflows u32", hash)
				}
				ref, err := d.r.sleb()
				if err != nil {
					return err
				}
				entry.fields[j] = wireField{hash: uint32(hash), ref: ref}
			}
		case opFunc, opService:
			return fmt.Errorf("func and service types are not supported")
		default:
			return fmt.Errorf("opcode %d is not a composite type", op)
		}
		d.table[i] = entry
	}

	for _, entry := range d.table {
		if entry.op == opOpt || entry.op == opVec {
			if err := d.checkRef(entry.elem); err != nil {
				return err
			}
		}
		for _, f := range entry.fields {
			if err := d.checkRef(f.ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *decoder) checkRef(ref int64) error {
	if ref >= 0 {
		if ref >= int64(len(d.table)) {
			return fmt.Errorf("type index %d out of range", ref)
		}
		return nil
	}
	if ref < opPrincipal || ref == opFunc || ref == opService {
		return fmt.Errorf("unsupported primitive opcode %d", ref)
	}
	return nil
}

func (d *decoder) value(ref int64, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nesting exceeds %d", maxDepth)
	}
	if ref >= 0 {
		return d.composite(d.table[ref], depth)
	}

	r := d.r
	switch ref {
	case opNull, opReserved:
		return nil, nil
	case opEmpty:
		return nil, fmt.Errorf("cannot decode a value of type empty")
	case opBool:
		b, err := r.byte()
		if err != nil {
			return nil, err
		}
		if b > 1 {
			return nil, fmt.Errorf("invalid bool byte %d", b)
		}
		return b == 1, nil
	case opNat:
		return r.ulebBig()
	case opInt:
		return r.slebBig()
	case opNat8:
		b, err := r.bytes(1)
		if err != nil {
			return nil, err
		}
		return uint64(b[0]), nil
	case opNat16:
		b, err := r.bytes(2)
		if err != nil {
			return nil, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case opNat32:
		b, err := r.bytes(4)
		if err != nil {
			return nil, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case opNat64:
		b, err := r.bytes(8)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint64(b), nil
	case opInt8:
		b, err := r.bytes(1)
		if err != nil {
			return nil, err
		}
		return int64(int8(b[0])), nil
	case opInt16:
		b, err := r.bytes(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case opInt32:
		b, err := r.bytes(4)
		if err != nil {
			return nil, err
		}
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	case opInt64:
		b, err := r.bytes(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	case opFloat32:
		b, err := r.bytes(4)
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case opFloat64:
		b, err := r.bytes(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case opText:
		n, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if n > uint64(r.remaining()) {
			return nil, fmt.Errorf("text length %d exceeds input", n)
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case opPrincipal:
		flag, err := r.byte()
		if err != nil {
			return nil, err
		}
		if flag != 1 {
			return nil, fmt.Errorf("opaque principal references are not supported")
		}
		n, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if n > 29 {
			return nil, fmt.Errorf("principal length %d too long", n)
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return principal.New(b), nil
	}
	return nil, fmt.Errorf("unsupported opcode %d", ref)
}

func (d *decoder) composite(t wireType, depth int) (any, error) {
	r := d.r
	switch t.op {
	case opOpt:
		flag, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch flag {
		case 0:
			return nil, nil
		case 1:
			return d.value(t.elem, depth+1)
		default:
			return nil, fmt.Errorf("invalid opt flag %d", flag)
		}
	case opVec:
		n, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if t.elem == opNat8 {
			if n > uint64(r.remaining()) {
				return nil, fmt.Errorf("blob length %d exceeds input", n)
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			return append([]byte{}, b...), nil
		}
		// Zero-sized elements (null, reserved) consume no input, so cap them separately.
		if n > uint64(r.remaining()) && !(t.elem == opNull || t.elem == opReserved) {
			return nil, fmt.Errorf("vec length %d exceeds input", n)
		}
		if n > 1<<20 {
			return nil, fmt.Errorf("vec length %d too large", n)
		}
		items := make([]any, n)
		for i := range items {
			if items[i], err = d.value(t.elem, depth+1); err != nil {
				return nil, err
			}
		}
		return items, nil
	case opRecord:
		rec := make(Record, len(t.fields))
		for _, f := range t.fields {
			v, err := d.value(f.ref, depth+1)
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", f.hash, err)
			}
			rec[f.hash] = v
		}
		return rec, nil
	case opVariant:
		idx, err := r.uleb()
		if err != nil {
			return nil, err
		}
		if idx >= uint64(len(t.fields)) {
			return nil, fmt.Errorf("variant index %d out of range", idx)
		}
		f := t.fields[idx]
		v, err := d.value(f.ref, depth+1)
		if err != nil {
			return nil, err
		}
		return Variant{Hash: f.hash, Value: v}, nil
	}
	return nil, fmt.Errorf("unsupported composite opcode %d", t.op)
}
