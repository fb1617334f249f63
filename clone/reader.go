package clone

import (
	"encoding/binary"
	"math"
	"math/big"
)

// Reader deserializes the structured-clone wire format into a Value tree.
// A Reader is single-use: construct one per call to Read.
type Reader struct {
	data []byte
	pos  int
	refs []*Value
}

// Read deserializes data into a Value tree, or returns a CloneError with
// Subcode InvalidData if the bytes are malformed.
func Read(data []byte) (*Value, error) {
	r := &Reader{data: data}
	return r.readValue(0)
}

func (r *Reader) remaining() int { return len(r.data) - r.pos }

func (r *Reader) need(n int) error {
	if n < 0 || r.remaining() < n {
		return errInvalidData("unexpected end of data")
	}
	return nil
}

func (r *Reader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) readU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	n := binary.LittleEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return n, nil
}

func (r *Reader) readI32() (int32, error) {
	n, err := r.readU32()
	return int32(n), err
}

func (r *Reader) readF64() (float64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	bits := binary.LittleEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return math.Float64frombits(bits), nil
}

func (r *Reader) readString() (string, error) {
	n, err := r.readU32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *Reader) readBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

func (r *Reader) readBigInt() (*big.Int, error) {
	sign, err := r.readByte()
	if err != nil {
		return nil, err
	}
	n, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	mag, err := r.readBytes(int(n))
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(mag)
	if sign == 1 {
		v.Neg(v)
	}
	return v, nil
}

// readCount reads a u32 element count and sanity-checks it against the
// remaining buffer size so a corrupt or adversarial count cannot force a
// huge allocation: every element needs at least one byte (its tag), so a
// count greater than the remaining byte count can never be satisfied.
func (r *Reader) readCount() (uint32, error) {
	n, err := r.readU32()
	if err != nil {
		return 0, err
	}
	if int(n) > r.remaining() {
		return 0, errInvalidData("element count exceeds remaining data")
	}
	return n, nil
}

func (r *Reader) readValue(depth int) (*Value, error) {
	if depth > MaxDepth {
		return nil, errMaxDepth(depth)
	}

	tagByte, err := r.readByte()
	if err != nil {
		return nil, err
	}
	tag := Tag(tagByte)

	switch tag {
	case TagUndefined:
		return Undefined(), nil
	case TagNull:
		return Null(), nil
	case TagBoolTrue:
		return Bool(true), nil
	case TagBoolFalse:
		return Bool(false), nil

	case TagInt32:
		n, err := r.readI32()
		if err != nil {
			return nil, err
		}
		return Int32Value(n), nil

	case TagDouble:
		f, err := r.readF64()
		if err != nil {
			return nil, err
		}
		return DoubleValue(f), nil

	case TagBigInt:
		b, err := r.readBigInt()
		if err != nil {
			return nil, err
		}
		return BigIntValue(b), nil

	case TagString:
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		return String(s), nil

	case TagObjectRef:
		id, err := r.readU32()
		if err != nil {
			return nil, err
		}
		if int(id) >= len(r.refs) {
			return nil, errInvalidData("object reference to unknown id")
		}
		return r.refs[id], nil

	case TagObject:
		v := &Value{Tag: TagObject}
		r.refs = append(r.refs, v)
		n, err := r.readCount()
		if err != nil {
			return nil, err
		}
		v.Props = make([]Property, 0, n)
		for i := uint32(0); i < n; i++ {
			key, err := r.readString()
			if err != nil {
				return nil, err
			}
			child, err := r.readValue(depth + 1)
			if err != nil {
				return nil, err
			}
			v.Props = append(v.Props, Property{Key: key, Value: child})
		}
		return v, nil

	case TagArray:
		v := &Value{Tag: TagArray}
		r.refs = append(r.refs, v)
		n, err := r.readCount()
		if err != nil {
			return nil, err
		}
		v.Items = make([]*Value, 0, n)
		for i := uint32(0); i < n; i++ {
			child, err := r.readValue(depth + 1)
			if err != nil {
				return nil, err
			}
			v.Items = append(v.Items, child)
		}
		return v, nil

	case TagDate:
		v := &Value{Tag: TagDate}
		r.refs = append(r.refs, v)
		f, err := r.readF64()
		if err != nil {
			return nil, err
		}
		v.Float = f
		return v, nil

	case TagRegExp:
		v := &Value{Tag: TagRegExp}
		r.refs = append(r.refs, v)
		src, err := r.readString()
		if err != nil {
			return nil, err
		}
		flags, err := r.readString()
		if err != nil {
			return nil, err
		}
		v.Str, v.Flags = src, flags
		return v, nil

	case TagMap:
		v := &Value{Tag: TagMap}
		r.refs = append(r.refs, v)
		n, err := r.readCount()
		if err != nil {
			return nil, err
		}
		v.Entries = make([]MapEntry, 0, n)
		for i := uint32(0); i < n; i++ {
			key, err := r.readValue(depth + 1)
			if err != nil {
				return nil, err
			}
			val, err := r.readValue(depth + 1)
			if err != nil {
				return nil, err
			}
			v.Entries = append(v.Entries, MapEntry{Key: key, Value: val})
		}
		return v, nil

	case TagSet:
		v := &Value{Tag: TagSet}
		r.refs = append(r.refs, v)
		n, err := r.readCount()
		if err != nil {
			return nil, err
		}
		v.Items = make([]*Value, 0, n)
		for i := uint32(0); i < n; i++ {
			item, err := r.readValue(depth + 1)
			if err != nil {
				return nil, err
			}
			v.Items = append(v.Items, item)
		}
		return v, nil

	case TagError, TagEvalError, TagRangeError, TagReferenceError, TagSyntaxError, TagTypeError, TagURIError:
		v := &Value{Tag: tag}
		r.refs = append(r.refs, v)
		name, err := r.readString()
		if err != nil {
			return nil, err
		}
		msg, err := r.readString()
		if err != nil {
			return nil, err
		}
		v.Name, v.Str = name, msg
		return v, nil

	case TagArrayBuffer:
		v := &Value{Tag: TagArrayBuffer}
		r.refs = append(r.refs, v)
		n, err := r.readU32()
		if err != nil {
			return nil, err
		}
		buf, err := r.readBytes(int(n))
		if err != nil {
			return nil, err
		}
		v.Buffer = buf
		return v, nil

	case TagDataView,
		TagInt8Array, TagUint8Array, TagUint8ClampedArray, TagInt16Array, TagUint16Array,
		TagInt32Array, TagUint32Array, TagFloat32Array, TagFloat64Array, TagBigInt64Array, TagBigUint64Array:
		v := &Value{Tag: tag}
		r.refs = append(r.refs, v)
		buf, err := r.readValue(depth + 1)
		if err != nil {
			return nil, err
		}
		if buf.Tag != TagArrayBuffer {
			return nil, errInvalidData("typed array view does not reference an ArrayBuffer")
		}
		v.View = buf
		byteOffset, err := r.readU32()
		if err != nil {
			return nil, err
		}
		length, err := r.readU32()
		if err != nil {
			return nil, err
		}
		if uint64(byteOffset)+uint64(length)*uint64(tag.elementSize()) > uint64(len(buf.Buffer)) {
			return nil, errInvalidData("typed array view extends past its backing buffer")
		}
		v.ByteOffset, v.Length = byteOffset, length
		return v, nil

	default:
		return nil, errInvalidData("unknown tag byte")
	}
}
