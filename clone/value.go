package clone

import "math/big"

// Value is the tagged-union representation of a clonable script value.
// Container kinds (Object, Array, Date, RegExp, Map, Set, the Error
// family, ArrayBuffer, the typed-array views, DataView) are always reached
// through a *Value pointer: pointer identity during a single write pass
// doubles as the object-graph identity the writer uses to detect sharing
// and cycles, exactly as spec.md §9 prescribes ("dynamic dispatch over
// script values... model values as a tagged variant").
//
// Primitive kinds are never refs (per spec), so two *Value primitives with
// equal contents are never deduplicated, and that is correct: primitives
// have no identity to share.
type Value struct {
	Tag Tag

	// Int32 holds the payload for TagInt32.
	Int32 int32
	// Float holds the payload for TagDouble, and the timestamp (in
	// milliseconds since epoch) for TagDate.
	Float float64
	// Str holds the payload for TagString, the regexp source for
	// TagRegExp, and the message for the error family.
	Str string
	// BigInt holds the payload for TagBigInt. Never nil when Tag is
	// TagBigInt.
	BigInt *big.Int

	// Flags holds the regexp flags, set only when Tag == TagRegExp.
	Flags string

	// Name holds the error's name (used when Tag == TagError but the
	// original object was a custom/subclassed error, or simply to
	// round-trip any error's name verbatim).
	Name string

	// Props holds Object's own enumerable properties, in insertion order.
	Props []Property
	// Items holds Array and Set elements, in order.
	Items []*Value
	// Entries holds Map entries, in iteration order.
	Entries []MapEntry

	// Buffer holds the raw bytes of an ArrayBuffer (set only when
	// Tag == TagArrayBuffer).
	Buffer []byte
	// View holds the backing ArrayBuffer for a typed array or DataView
	// (set only when Tag is one of those kinds). Sharing the same *Value
	// buffer across multiple views preserves aliasing within a pass, as
	// long as the buffer is registered as a ref (i.e. referenced by more
	// than one place in the graph).
	View *Value
	// ByteOffset is the view's offset into View.Buffer, in bytes.
	ByteOffset uint32
	// Length is the view's length: elements for typed arrays, bytes for
	// DataView.
	Length uint32
}

// Property is a single Object own-property.
type Property struct {
	Key   string
	Value *Value
}

// MapEntry is a single Map key/value pair.
type MapEntry struct {
	Key   *Value
	Value *Value
}

// Undefined returns the undefined value.
func Undefined() *Value { return &Value{Tag: TagUndefined} }

// Null returns the null value.
func Null() *Value { return &Value{Tag: TagNull} }

// Bool returns a boolean value.
func Bool(b bool) *Value {
	if b {
		return &Value{Tag: TagBoolTrue}
	}
	return &Value{Tag: TagBoolFalse}
}

// Number returns the numeric value, choosing Int32 when v is finite and
// exactly representable as a 32-bit signed integer, Double otherwise, per
// the writer invariant in spec.md §4.4.
func Number(v float64) *Value {
	if i32 := int32(v); float64(i32) == v {
		return &Value{Tag: TagInt32, Int32: i32}
	}
	return &Value{Tag: TagDouble, Float: v}
}

// Int32Value returns an Int32-tagged value directly, bypassing the
// float64 round-trip Number would require.
func Int32Value(v int32) *Value { return &Value{Tag: TagInt32, Int32: v} }

// DoubleValue returns a Double-tagged value directly, even if v happens to
// be exactly representable as an Int32. Use Number for the writer's
// standard classification rule.
func DoubleValue(v float64) *Value { return &Value{Tag: TagDouble, Float: v} }

// BigIntValue returns a BigInt-tagged value.
func BigIntValue(v *big.Int) *Value { return &Value{Tag: TagBigInt, BigInt: v} }

// String returns a string value.
func String(s string) *Value { return &Value{Tag: TagString, Str: s} }

// Object returns an empty object; use Set to add properties in order.
func Object() *Value { return &Value{Tag: TagObject} }

// Set appends (or, if the key already exists, overwrites in place) a
// property on an Object value.
func (v *Value) Set(key string, val *Value) *Value {
	for i := range v.Props {
		if v.Props[i].Key == key {
			v.Props[i].Value = val
			return v
		}
	}
	v.Props = append(v.Props, Property{Key: key, Value: val})
	return v
}

// Array returns an array value containing items, in order.
func Array(items ...*Value) *Value { return &Value{Tag: TagArray, Items: items} }

// Date returns a Date value from a millisecond timestamp.
func Date(timestampMs float64) *Value { return &Value{Tag: TagDate, Float: timestampMs} }

// RegExp returns a RegExp value.
func RegExp(source, flags string) *Value { return &Value{Tag: TagRegExp, Str: source, Flags: flags} }

// Map returns a Map value from entries, in iteration order.
func Map(entries ...MapEntry) *Value { return &Value{Tag: TagMap, Entries: entries} }

// SetValue returns a Set value from items, in iteration order. Named
// SetValue (not Set) because Set is already the Object property setter.
func SetValue(items ...*Value) *Value { return &Value{Tag: TagSet, Items: items} }

// Error returns an error-family value. tag must be one of the seven error
// tags; name is the constructor name used when tag is the generic
// TagError but the source was a named subclass.
func Error(tag Tag, name, message string) *Value {
	return &Value{Tag: tag, Name: name, Str: message}
}

// ArrayBuffer returns an ArrayBuffer value wrapping raw bytes. The slice
// is retained, not copied; callers must not mutate it afterward.
func ArrayBuffer(b []byte) *Value { return &Value{Tag: TagArrayBuffer, Buffer: b} }

// TypedArray returns a typed-array (or DataView) value viewing buf.
func TypedArray(tag Tag, buf *Value, byteOffset, length uint32) *Value {
	return &Value{Tag: tag, View: buf, ByteOffset: byteOffset, Length: length}
}

// IsObjectKind reports whether v participates in the writer/reader
// identity map.
func (v *Value) IsObjectKind() bool { return v.Tag.isObjectKind() }
