package clone

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/big"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// invalidRuneRemover strips the replacement rune that transform.String
// leaves behind when it walks a string containing ill-formed UTF-8. Used
// to sanitize strings before they hit the wire, per spec.md §4.4 ("the
// writer treats strings as opaque UTF-8; byte sequences that are not
// valid UTF-8 are sanitized, not rejected").
var invalidRuneRemover = runes.Remove(runes.Predicate(func(r rune) bool {
	return r == utf8.RuneError
}))

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	clean, _, err := transform.String(invalidRuneRemover, s)
	if err != nil {
		return ""
	}
	return clean
}

// Writer serializes a Value tree into the structured-clone wire format.
// A Writer is single-use: construct one per call to Write.
type Writer struct {
	buf  bytes.Buffer
	memo map[*Value]uint32
}

// Write serializes v, returning the encoded bytes or a CloneError whose
// Subcode identifies why the value could not be written.
func Write(v *Value) ([]byte, error) {
	w := &Writer{memo: make(map[*Value]uint32)}
	if err := w.writeValue(v, 0); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

func (w *Writer) checkSize() error {
	if w.buf.Len() > MaxSize {
		return errMaxSize(w.buf.Len())
	}
	return nil
}

func (w *Writer) writeU32(n uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	w.buf.Write(b[:])
}

func (w *Writer) writeI32(n int32) {
	w.writeU32(uint32(n))
}

func (w *Writer) writeF64(f float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
	w.buf.Write(b[:])
}

func (w *Writer) writeString(s string) {
	s = sanitizeUTF8(s)
	w.writeU32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) writeBigInt(v *big.Int) {
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	mag := v.Bytes()
	w.buf.WriteByte(sign)
	w.writeU32(uint32(len(mag)))
	w.buf.Write(mag)
}

// writeValue writes v's tag byte and payload, assigning it a fresh ref id
// first if it is an object-kind value seen for the first time, or
// emitting an ObjectRef if it has already been written once in this pass.
func (w *Writer) writeValue(v *Value, depth int) error {
	if depth > MaxDepth {
		return errMaxDepth(depth)
	}
	if v == nil {
		v = Undefined()
	}

	if v.Tag.isObjectKind() {
		if id, ok := w.memo[v]; ok {
			w.buf.WriteByte(byte(TagObjectRef))
			w.writeU32(id)
			return w.checkSize()
		}
		w.memo[v] = uint32(len(w.memo))
	}

	w.buf.WriteByte(byte(v.Tag))

	switch v.Tag {
	case TagUndefined, TagNull, TagBoolTrue, TagBoolFalse:
		// no payload

	case TagInt32:
		w.writeI32(v.Int32)

	case TagDouble:
		w.writeF64(v.Float)

	case TagBigInt:
		w.writeBigInt(v.BigInt)

	case TagString:
		w.writeString(v.Str)

	case TagObject:
		w.writeU32(uint32(len(v.Props)))
		for _, p := range v.Props {
			w.writeString(p.Key)
			if err := w.writeValue(p.Value, depth+1); err != nil {
				return err
			}
		}

	case TagArray:
		w.writeU32(uint32(len(v.Items)))
		for _, item := range v.Items {
			if err := w.writeValue(item, depth+1); err != nil {
				return err
			}
		}

	case TagDate:
		w.writeF64(v.Float)

	case TagRegExp:
		w.writeString(v.Str)
		w.writeString(v.Flags)

	case TagMap:
		w.writeU32(uint32(len(v.Entries)))
		for _, e := range v.Entries {
			if err := w.writeValue(e.Key, depth+1); err != nil {
				return err
			}
			if err := w.writeValue(e.Value, depth+1); err != nil {
				return err
			}
		}

	case TagSet:
		w.writeU32(uint32(len(v.Items)))
		for _, item := range v.Items {
			if err := w.writeValue(item, depth+1); err != nil {
				return err
			}
		}

	case TagError, TagEvalError, TagRangeError, TagReferenceError, TagSyntaxError, TagTypeError, TagURIError:
		name := v.Name
		if name == "" {
			name = errorTagNames[v.Tag]
		}
		w.writeString(name)
		w.writeString(v.Str)

	case TagArrayBuffer:
		if v.Buffer == nil {
			return errDetachedBuffer()
		}
		w.writeU32(uint32(len(v.Buffer)))
		w.buf.Write(v.Buffer)

	case TagDataView,
		TagInt8Array, TagUint8Array, TagUint8ClampedArray, TagInt16Array, TagUint16Array,
		TagInt32Array, TagUint32Array, TagFloat32Array, TagFloat64Array, TagBigInt64Array, TagBigUint64Array:
		if v.View == nil || v.View.Tag != TagArrayBuffer {
			return errInvalidData("typed array view is missing its backing ArrayBuffer")
		}
		if err := w.writeValue(v.View, depth+1); err != nil {
			return err
		}
		w.writeU32(v.ByteOffset)
		w.writeU32(v.Length)

	default:
		return errCannotCloneType(v.Tag.String())
	}

	return w.checkSize()
}
