package clone

import (
	"errors"
	"math/big"
	"testing"
)

func roundTrip(t *testing.T, v *Value) *Value {
	t.Helper()
	data, err := Write(v)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return out
}

func TestRoundTrip_Primitives(t *testing.T) {
	cases := []*Value{
		Undefined(),
		Null(),
		Bool(true),
		Bool(false),
		Number(42),
		Number(3.5),
		Int32Value(-7),
		DoubleValue(1e300),
		BigIntValue(big.NewInt(-123456789)),
		String("hello, 世界"),
	}
	for _, v := range cases {
		out := roundTrip(t, v)
		if out.Tag != v.Tag {
			t.Errorf("tag mismatch: got %v want %v", out.Tag, v.Tag)
		}
	}
}

func TestRoundTrip_Int32ClassificationRule(t *testing.T) {
	v := Number(1000)
	if v.Tag != TagInt32 {
		t.Fatalf("expected Int32 classification, got %v", v.Tag)
	}
	v2 := Number(1.5)
	if v2.Tag != TagDouble {
		t.Fatalf("expected Double classification, got %v", v2.Tag)
	}
}

func TestRoundTrip_ObjectAndArray(t *testing.T) {
	obj := Object()
	obj.Set("a", Number(1)).Set("b", String("x"))
	arr := Array(Number(1), Number(2), obj)

	out := roundTrip(t, arr)
	if out.Tag != TagArray || len(out.Items) != 3 {
		t.Fatalf("unexpected array shape: %+v", out)
	}
	gotObj := out.Items[2]
	if gotObj.Tag != TagObject || len(gotObj.Props) != 2 {
		t.Fatalf("unexpected object shape: %+v", gotObj)
	}
	if gotObj.Props[0].Key != "a" || gotObj.Props[1].Key != "b" {
		t.Fatalf("property order not preserved: %+v", gotObj.Props)
	}
}

func TestRoundTrip_SharedReference(t *testing.T) {
	shared := Object()
	shared.Set("v", Number(99))
	arr := Array(shared, shared)

	out := roundTrip(t, arr)
	a, b := out.Items[0], out.Items[1]
	if a != b {
		t.Fatalf("shared object identity not preserved across round trip")
	}
	a.Set("v", Number(100))
	if b.Props[0].Value.Int32 != 100 {
		t.Fatalf("mutation through one alias not visible through the other")
	}
}

func TestRoundTrip_Cycle(t *testing.T) {
	obj := Object()
	obj.Set("self", obj)

	out := roundTrip(t, obj)
	if out.Props[0].Value != out {
		t.Fatalf("cycle not preserved: self-reference does not point back to the root")
	}
}

func TestRoundTrip_MapAndSet(t *testing.T) {
	m := Map(MapEntry{Key: String("k"), Value: Number(1)})
	s := SetValue(String("x"), String("y"))

	outM := roundTrip(t, m)
	if len(outM.Entries) != 1 || outM.Entries[0].Key.Str != "k" {
		t.Fatalf("map round trip mismatch: %+v", outM)
	}
	outS := roundTrip(t, s)
	if len(outS.Items) != 2 {
		t.Fatalf("set round trip mismatch: %+v", outS)
	}
}

func TestRoundTrip_DateAndRegExp(t *testing.T) {
	d := Date(1700000000000)
	out := roundTrip(t, d)
	if out.Float != 1700000000000 {
		t.Fatalf("date mismatch: %v", out.Float)
	}

	re := RegExp("a+b*", "gi")
	outRe := roundTrip(t, re)
	if outRe.Str != "a+b*" || outRe.Flags != "gi" {
		t.Fatalf("regexp mismatch: %+v", outRe)
	}
}

func TestRoundTrip_ErrorFamily(t *testing.T) {
	e := Error(TagTypeError, "TypeError", "bad argument")
	out := roundTrip(t, e)
	if out.Tag != TagTypeError || out.Name != "TypeError" || out.Str != "bad argument" {
		t.Fatalf("error round trip mismatch: %+v", out)
	}
}

func TestRoundTrip_ArrayBuffer(t *testing.T) {
	buf := ArrayBuffer([]byte{1, 2, 3, 4})
	out := roundTrip(t, buf)
	if string(out.Buffer) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("buffer mismatch: %v", out.Buffer)
	}
}

func TestRoundTrip_TypedArrayAliasesSharedBuffer(t *testing.T) {
	buf := ArrayBuffer(make([]byte, 16))
	view1 := TypedArray(TagUint8Array, buf, 0, 16)
	view2 := TypedArray(TagUint32Array, buf, 0, 4)
	container := Array(view1, view2)

	out := roundTrip(t, container)
	v1, v2 := out.Items[0], out.Items[1]
	if v1.View != v2.View {
		t.Fatalf("typed array views lost their shared backing buffer")
	}
}

func TestWrite_MaxDepthExceeded(t *testing.T) {
	var v *Value = Array()
	for i := 0; i < MaxDepth+10; i++ {
		v = Array(v)
	}
	_, err := Write(v)
	if !errors.Is(err, ErrMaxDepthExceeded) {
		t.Fatalf("expected MaxDepthExceeded, got %v", err)
	}
}

func TestWrite_MaxSizeExceeded(t *testing.T) {
	big := String(string(make([]byte, MaxSize+1024)))
	_, err := Write(big)
	if !errors.Is(err, ErrMaxSizeExceeded) {
		t.Fatalf("expected MaxSizeExceeded, got %v", err)
	}
}

func TestCheckBrand_RefusesFunctionLikeBrands(t *testing.T) {
	for _, brand := range []string{"Function", "Symbol", "WeakMap", "WeakSet", "Promise", "Proxy"} {
		err := CheckBrand(brand)
		var ce *CloneError
		if !errors.As(err, &ce) || ce.Subcode != SubcodeCannotCloneType {
			t.Errorf("brand %q: expected CannotCloneType, got %v", brand, err)
		}
	}
}

func TestCheckBrand_AllowsUnknownBrands(t *testing.T) {
	if err := CheckBrand("SomeCustomClass"); err != nil {
		t.Fatalf("unknown brand should be allowed as plain Object, got %v", err)
	}
}

func TestRead_RejectsUnknownTag(t *testing.T) {
	_, err := Read([]byte{0xEE})
	var ce *CloneError
	if !errors.As(err, &ce) || ce.Subcode != SubcodeInvalidData {
		t.Fatalf("expected InvalidData for unknown tag, got %v", err)
	}
}

func TestRead_RejectsTruncatedData(t *testing.T) {
	_, err := Read([]byte{byte(TagInt32), 0x01})
	var ce *CloneError
	if !errors.As(err, &ce) || ce.Subcode != SubcodeInvalidData {
		t.Fatalf("expected InvalidData for truncated int32, got %v", err)
	}
}

func TestRead_RejectsDanglingObjectRef(t *testing.T) {
	data := []byte{byte(TagObjectRef), 0, 0, 0, 0}
	_, err := Read(data)
	var ce *CloneError
	if !errors.As(err, &ce) || ce.Subcode != SubcodeInvalidData {
		t.Fatalf("expected InvalidData for dangling ref, got %v", err)
	}
}

func TestRoundTrip_SanitizesInvalidUTF8(t *testing.T) {
	v := String("abc\xffdef")
	out := roundTrip(t, v)
	if out.Str == v.Str {
		t.Fatalf("expected sanitized string to differ from input containing invalid UTF-8")
	}
}
