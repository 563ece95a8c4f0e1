package replication

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Wire format: every field is a uvarint length followed by that many bytes.
// Structs are nested by encoding them into a field of their own.

type writer struct {
	buf []byte
}

func (w *writer) field(b []byte) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) uint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.field(tmp[:n])
}

func (w *writer) int(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	w.field(tmp[:n])
}

func (w *writer) float(v float64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	w.field(tmp[:])
}

func (w *writer) bool(v bool) {
	if v {
		w.field([]byte{1})
		return
	}
	w.field([]byte{0})
}

func (w *writer) duration(d time.Duration) { w.int(int64(d)) }

// reader decodes fields in order. The first failure sticks and later reads return zero values.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	}
}

func (r *reader) field() []byte {
	if r.err != nil {
		return nil
	}
	n, k := binary.Uvarint(r.buf)
	if k <= 0 {
		r.fail("bad field length")
		return nil
	}
	if uint64(len(r.buf)-k) < n {
		r.fail("field of %d bytes overruns buffer of %d", n, len(r.buf)-k)
		return nil
	}
	out := r.buf[k : k+int(n)]
	r.buf = r.buf[k+int(n):]
	return out
}

func (r *reader) str() string { return string(r.field()) }

func (r *reader) uint() uint64 {
	b := r.field()
	if r.err != nil {
		return 0
	}
	v, k := binary.Uvarint(b)
	if k <= 0 || k != len(b) {
		r.fail("bad uvarint")
		return 0
	}
	return v
}

func (r *reader) int() int64 {
	b := r.field()
	if r.err != nil {
		return 0
	}
	v, k := binary.Varint(b)
	if k <= 0 || k != len(b) {
		r.fail("bad varint")
		return 0
	}
	return v
}

func (r *reader) float() float64 {
	b := r.field()
	if r.err != nil {
		return 0
	}
	if len(b) != 8 {
		r.fail("float field has %d bytes", len(b))
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (r *reader) bool() bool {
	b := r.field()
	if r.err != nil {
		return false
	}
	if len(b) != 1 || b[0] > 1 {
		r.fail("bad bool")
		return false
	}
	return b[0] == 1
}

func (r *reader) duration() time.Duration { return time.Duration(r.int()) }

// count reads a collection length and rejects values that cannot fit in the remaining bytes.
func (r *reader) count() int {
	n := r.uint()
	if r.err == nil && n > uint64(len(r.buf)) {
		r.fail("count %d exceeds remaining %d bytes", n, len(r.buf))
		return 0
	}
	return int(n)
}

// sub returns a reader over the next field.
func (r *reader) sub() *reader {
	b := r.field()
	return &reader{buf: b, err: r.err}
}

// done fails if unread bytes remain.
func (r *reader) done() error {
	if r.err == nil && len(r.buf) != 0 {
		r.fail("%d trailing bytes", len(r.buf))
	}
	return r.err
}
