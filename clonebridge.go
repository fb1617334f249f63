package worker

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/jsworker/runtime/clone"
)

// The clone bridge is the boundary between a live script value inside a
// ScriptEngine and a clone.Value tree. The engine itself never hands Go a
// native handle graph to reflect over (that would tie this package to one
// engine's internals) — instead the bootstrap script's __cloneEncode /
// __cloneDecode functions do the identity-preserving graph walk in JS,
// producing/consuming a small JSON scaffold, with large ArrayBuffer
// payloads shuttled separately through the engine's BinaryTransferer so
// they never get base64-inflated inside the JSON text.

// wireNode is the JSON scaffold shape produced by __cloneEncode and
// consumed by __cloneDecode. Only the fields relevant to t are populated.
type wireNode struct {
	T       string          `json:"t"`
	ID      *uint32         `json:"id,omitempty"`
	Ref     *uint32         `json:"ref,omitempty"`
	N       float64         `json:"n,omitempty"`
	S       string          `json:"s,omitempty"`
	Name    string          `json:"name,omitempty"`
	Msg     string          `json:"msg,omitempty"`
	Flags   string          `json:"flags,omitempty"`
	Props   []wireProp      `json:"props,omitempty"`
	Items   []json.RawMessage `json:"items,omitempty"`
	Entries []wireEntry     `json:"entries,omitempty"`
	Bin     string          `json:"bin,omitempty"`
	View    json.RawMessage `json:"view,omitempty"`
	Off     uint32          `json:"off,omitempty"`
	Len     uint32          `json:"len,omitempty"`
}

type wireProp struct {
	K string          `json:"k"`
	V json.RawMessage `json:"v"`
}

type wireEntry struct {
	K json.RawMessage `json:"k"`
	V json.RawMessage `json:"v"`
}

var errorTagByWireName = map[string]clone.Tag{
	"error":          clone.TagError,
	"evalerror":      clone.TagEvalError,
	"rangeerror":     clone.TagRangeError,
	"referenceerror": clone.TagReferenceError,
	"syntaxerror":    clone.TagSyntaxError,
	"typeerror":      clone.TagTypeError,
	"urierror":       clone.TagURIError,
}

var typedArrayTagByWireName = map[string]clone.Tag{
	"dataview":       clone.TagDataView,
	"int8array":      clone.TagInt8Array,
	"uint8array":     clone.TagUint8Array,
	"uint8clamped":   clone.TagUint8ClampedArray,
	"int16array":     clone.TagInt16Array,
	"uint16array":    clone.TagUint16Array,
	"int32array":     clone.TagInt32Array,
	"uint32array":    clone.TagUint32Array,
	"float32array":   clone.TagFloat32Array,
	"float64array":   clone.TagFloat64Array,
	"bigint64array":  clone.TagBigInt64Array,
	"biguint64array": clone.TagBigUint64Array,
}

// bridgeDecoder turns the JSON scaffold a ScriptEngine produced into a
// clone.Value tree, fetching ArrayBuffer payloads from the engine via its
// BinaryTransferer as it encounters them.
type bridgeDecoder struct {
	engine ScriptEngine
	refs   map[uint32]*clone.Value
}

func decodeBridgeJSON(engine ScriptEngine, data string) (*clone.Value, error) {
	d := &bridgeDecoder{engine: engine, refs: make(map[uint32]*clone.Value)}
	return d.decode(json.RawMessage(data))
}

func (d *bridgeDecoder) decode(raw json.RawMessage) (*clone.Value, error) {
	var n wireNode
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decoding clone bridge node: %w", err)
	}

	if n.T == "ref" {
		if n.Ref == nil {
			return nil, fmt.Errorf("ref node missing id")
		}
		v, ok := d.refs[*n.Ref]
		if !ok {
			return nil, fmt.Errorf("dangling bridge ref %d", *n.Ref)
		}
		return v, nil
	}

	switch n.T {
	case "undefined":
		return clone.Undefined(), nil
	case "null":
		return clone.Null(), nil
	case "true":
		return clone.Bool(true), nil
	case "false":
		return clone.Bool(false), nil
	case "number":
		return clone.Number(n.N), nil
	case "bigint":
		bi, ok := new(big.Int).SetString(n.S, 10)
		if !ok {
			return nil, fmt.Errorf("invalid bigint literal %q", n.S)
		}
		return clone.BigIntValue(bi), nil
	case "string":
		return clone.String(n.S), nil
	case "unsupported":
		return nil, clone.CheckBrand(n.Name)
	}

	if n.ID == nil {
		return nil, fmt.Errorf("container node %q missing id", n.T)
	}

	switch n.T {
	case "object":
		v := clone.Object()
		d.refs[*n.ID] = v
		for _, p := range n.Props {
			child, err := d.decode(p.V)
			if err != nil {
				return nil, err
			}
			v.Set(p.K, child)
		}
		return v, nil

	case "array":
		v := &clone.Value{Tag: clone.TagArray}
		d.refs[*n.ID] = v
		for _, item := range n.Items {
			child, err := d.decode(item)
			if err != nil {
				return nil, err
			}
			v.Items = append(v.Items, child)
		}
		return v, nil

	case "date":
		v := clone.Date(n.N)
		d.refs[*n.ID] = v
		return v, nil

	case "regexp":
		v := clone.RegExp(n.S, n.Flags)
		d.refs[*n.ID] = v
		return v, nil

	case "map":
		v := &clone.Value{Tag: clone.TagMap}
		d.refs[*n.ID] = v
		for _, e := range n.Entries {
			k, err := d.decode(e.K)
			if err != nil {
				return nil, err
			}
			val, err := d.decode(e.V)
			if err != nil {
				return nil, err
			}
			v.Entries = append(v.Entries, clone.MapEntry{Key: k, Value: val})
		}
		return v, nil

	case "set":
		v := &clone.Value{Tag: clone.TagSet}
		d.refs[*n.ID] = v
		for _, item := range n.Items {
			child, err := d.decode(item)
			if err != nil {
				return nil, err
			}
			v.Items = append(v.Items, child)
		}
		return v, nil

	case "arraybuffer":
		v := &clone.Value{Tag: clone.TagArrayBuffer}
		d.refs[*n.ID] = v
		buf, err := d.engine.ReadBinaryFromJS(n.Bin)
		if err != nil {
			return nil, fmt.Errorf("reading ArrayBuffer payload: %w", err)
		}
		v.Buffer = buf
		return v, nil
	}

	if tag, ok := errorTagByWireName[n.T]; ok {
		v := clone.Error(tag, n.Name, n.Msg)
		d.refs[*n.ID] = v
		return v, nil
	}

	if tag, ok := typedArrayTagByWireName[n.T]; ok {
		v := &clone.Value{Tag: tag}
		d.refs[*n.ID] = v
		buf, err := d.decode(n.View)
		if err != nil {
			return nil, err
		}
		if buf.Tag != clone.TagArrayBuffer {
			return nil, fmt.Errorf("typed array view %q does not reference an ArrayBuffer", n.T)
		}
		v.View, v.ByteOffset, v.Length = buf, n.Off, n.Len
		return v, nil
	}

	return nil, fmt.Errorf("unknown clone bridge tag %q", n.T)
}

// bridgeEncoder turns a clone.Value tree (already deserialized off the
// wire by the clone package) into the JSON scaffold __cloneDecode
// expects, pushing ArrayBuffer payloads into the engine via
// WriteBinaryToJS under synthetic global names instead of inlining them.
type bridgeEncoder struct {
	engine ScriptEngine
	memo   map[*clone.Value]uint32
	nextID uint32
	nextBuf int
}

func encodeBridgeJSON(engine ScriptEngine, v *clone.Value) (string, error) {
	e := &bridgeEncoder{engine: engine, memo: make(map[*clone.Value]uint32)}
	raw, err := e.encode(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (e *bridgeEncoder) assignID(v *clone.Value) (uint32, bool) {
	if id, ok := e.memo[v]; ok {
		return id, true
	}
	id := e.nextID
	e.nextID++
	e.memo[v] = id
	return id, false
}

func (e *bridgeEncoder) marshal(n wireNode) (json.RawMessage, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encoding clone bridge node: %w", err)
	}
	return b, nil
}

func u32p(v uint32) *uint32 { return &v }

func (e *bridgeEncoder) encode(v *clone.Value) (json.RawMessage, error) {
	if v.IsObjectKind() {
		id, seen := e.assignID(v)
		if seen {
			return e.marshal(wireNode{T: "ref", Ref: u32p(id)})
		}
		return e.encodeContainer(v, id)
	}

	switch v.Tag {
	case clone.TagUndefined:
		return e.marshal(wireNode{T: "undefined"})
	case clone.TagNull:
		return e.marshal(wireNode{T: "null"})
	case clone.TagBoolTrue:
		return e.marshal(wireNode{T: "true"})
	case clone.TagBoolFalse:
		return e.marshal(wireNode{T: "false"})
	case clone.TagInt32:
		return e.marshal(wireNode{T: "number", N: float64(v.Int32)})
	case clone.TagDouble:
		return e.marshal(wireNode{T: "number", N: v.Float})
	case clone.TagBigInt:
		return e.marshal(wireNode{T: "bigint", S: v.BigInt.String()})
	case clone.TagString:
		return e.marshal(wireNode{T: "string", S: v.Str})
	default:
		return nil, fmt.Errorf("clone bridge: unhandled primitive tag %v", v.Tag)
	}
}

func (e *bridgeEncoder) encodeContainer(v *clone.Value, id uint32) (json.RawMessage, error) {
	switch v.Tag {
	case clone.TagObject:
		props := make([]wireProp, 0, len(v.Props))
		for _, p := range v.Props {
			child, err := e.encode(p.Value)
			if err != nil {
				return nil, err
			}
			props = append(props, wireProp{K: p.Key, V: child})
		}
		return e.marshal(wireNode{T: "object", ID: u32p(id), Props: props})

	case clone.TagArray:
		items := make([]json.RawMessage, 0, len(v.Items))
		for _, it := range v.Items {
			child, err := e.encode(it)
			if err != nil {
				return nil, err
			}
			items = append(items, child)
		}
		return e.marshal(wireNode{T: "array", ID: u32p(id), Items: items})

	case clone.TagDate:
		return e.marshal(wireNode{T: "date", ID: u32p(id), N: v.Float})

	case clone.TagRegExp:
		return e.marshal(wireNode{T: "regexp", ID: u32p(id), S: v.Str, Flags: v.Flags})

	case clone.TagMap:
		entries := make([]wireEntry, 0, len(v.Entries))
		for _, ent := range v.Entries {
			k, err := e.encode(ent.Key)
			if err != nil {
				return nil, err
			}
			val, err := e.encode(ent.Value)
			if err != nil {
				return nil, err
			}
			entries = append(entries, wireEntry{K: k, V: val})
		}
		return e.marshal(wireNode{T: "map", ID: u32p(id), Entries: entries})

	case clone.TagSet:
		items := make([]json.RawMessage, 0, len(v.Items))
		for _, it := range v.Items {
			child, err := e.encode(it)
			if err != nil {
				return nil, err
			}
			items = append(items, child)
		}
		return e.marshal(wireNode{T: "set", ID: u32p(id), Items: items})

	case clone.TagArrayBuffer:
		name := fmt.Sprintf("__cloneBuf%d", e.nextBuf)
		e.nextBuf++
		if err := e.engine.WriteBinaryToJS(name, v.Buffer); err != nil {
			return nil, fmt.Errorf("writing ArrayBuffer payload: %w", err)
		}
		return e.marshal(wireNode{T: "arraybuffer", ID: u32p(id), Bin: name})

	default:
		if v.Tag.String() == "Unknown" {
			return nil, fmt.Errorf("clone bridge: unknown tag")
		}
		return e.encodeErrorOrView(v, id)
	}
}

func (e *bridgeEncoder) encodeErrorOrView(v *clone.Value, id uint32) (json.RawMessage, error) {
	for name, tag := range errorTagByWireName {
		if tag == v.Tag {
			return e.marshal(wireNode{T: name, ID: u32p(id), Name: v.Name, Msg: v.Str})
		}
	}
	for name, tag := range typedArrayTagByWireName {
		if tag == v.Tag {
			view, err := e.encode(v.View)
			if err != nil {
				return nil, err
			}
			return e.marshal(wireNode{T: name, ID: u32p(id), View: view, Off: v.ByteOffset, Len: v.Length})
		}
	}
	return nil, fmt.Errorf("clone bridge: unhandled container tag %v", v.Tag)
}
