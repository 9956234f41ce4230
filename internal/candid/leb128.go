package candid

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/aviate-labs/leb128"
)

var big7f = big.NewInt(0x7f)

func writeUleb(w *bytes.Buffer, v uint64) {
	writeUlebBig(w, new(big.Int).SetUint64(v))
}

// writeUlebBig expects a non-negative v
func writeUlebBig(w *bytes.Buffer, v *big.Int) {
	b, err := leb128.EncodeUnsigned(v)
	if err != nil {
		panic("candid: " + err.Error())
	}
	w.Write(b)
}

// writeSleb encodes v in signed LEB128. leb128.EncodeSigned takes each group
// through Int64, which breaks above 2^63, so the groups are cut here.
func writeSleb(w *bytes.Buffer, v *big.Int) {
	n := new(big.Int).Set(v)
	for {
		// Two's complement low 7 bits; big.Int And on negatives behaves that way.
		b := byte(new(big.Int).And(n, big7f).Uint64())
		n.Rsh(n, 7)
		done := (n.Sign() == 0 && b&0x40 == 0) || (n.Cmp(big.NewInt(-1)) == 0 && b&0x40 != 0)
		if done {
			w.WriteByte(b)
			return
		}
		w.WriteByte(b | 0x80)
	}
}

// DecodeUleb reads one unsigned LEB128 value that must span all of b
func DecodeUleb(b []byte) (uint64, error) {
	r := &reader{data: b}
	v, err := r.uleb()
	if err != nil {
		return 0, err
	}
	if r.remaining() != 0 {
		return 0, fmt.Errorf("%d trailing bytes after leb128 value", r.remaining())
	}
	return v, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("unexpected end of input at byte %d", r.pos)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("need %d bytes at offset %d, have %d", n, r.pos, r.remaining())
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// leb returns the next LEB128 group, up to and including its last byte
func (r *reader) leb() ([]byte, error) {
	for i := r.pos; i < len(r.data); i++ {
		if r.data[i] < 0x80 {
			return r.bytes(i + 1 - r.pos)
		}
	}
	return nil, fmt.Errorf("unterminated leb128 value at byte %d", r.pos)
}

func (r *reader) ulebBig() (*big.Int, error) {
	b, err := r.leb()
	if err != nil {
		return nil, err
	}
	return leb128.DecodeUnsigned(bytes.NewReader(b))
}

func (r *reader) uleb() (uint64, error) {
	n, err := r.ulebBig()
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("leb128 value %s overflows uint64", n)
	}
	return n.Uint64(), nil
}

func (r *reader) slebBig() (*big.Int, error) {
	b, err := r.leb()
	if err != nil {
		return nil, err
	}
	return leb128.DecodeSigned(bytes.NewReader(b))
}

func (r *reader) sleb() (int64, error) {
	n, err := r.slebBig()
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() {
		return 0, fmt.Errorf("sleb128 value %s overflows int64", n)
	}
	return n.Int64(), nil
}
