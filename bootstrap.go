package worker

import (
	"fmt"
	"time"

	"github.com/jsworker/runtime/clone"
	"github.com/jsworker/runtime/internal/trace"
)

// cloneBridgeJS implements __cloneEncode/__cloneDecode, the identity-
// preserving JSON scaffold walkers described in clonebridge.go. Written
// as a pure JS polyfill rather than engine-specific Go reflection, in the
// same spirit as the teacher's messagechannel.go structuredClone
// polyfill — it is the one piece of this runtime that genuinely needs to
// walk a live script object graph, and every engine that can run
// ordinary ES2020 already knows how to do that.
const cloneBridgeJS = `
(function() {
	var errorCtorNames = ["error","evalerror","rangeerror","referenceerror","syntaxerror","typeerror","urierror"];
	var taTags = {
		Int8Array: "int8array", Uint8Array: "uint8array", Uint8ClampedArray: "uint8clamped",
		Int16Array: "int16array", Uint16Array: "uint16array", Int32Array: "int32array",
		Uint32Array: "uint32array", Float32Array: "float32array", Float64Array: "float64array",
		BigInt64Array: "bigint64array", BigUint64Array: "biguint64array", DataView: "dataview"
	};
	var errCtors = {
		error: Error, evalerror: EvalError, rangeerror: RangeError,
		referenceerror: ReferenceError, syntaxerror: SyntaxError,
		typeerror: TypeError, urierror: URIError
	};
	var taCtors = {
		int8array: Int8Array, uint8array: Uint8Array, uint8clamped: Uint8ClampedArray,
		int16array: Int16Array, uint16array: Uint16Array, int32array: Int32Array,
		uint32array: Uint32Array, float32array: Float32Array, float64array: Float64Array,
		bigint64array: BigInt64Array, biguint64array: BigUint64Array
	};

	globalThis.__cloneEncode = function(rootValue) {
		var nextId = 0;
		var seen = new Map();
		var nextBuf = 0;

		function brandOf(x) {
			return Object.prototype.toString.call(x).slice(8, -1);
		}

		function encodeValue(v) {
			if (v === undefined) return {t: "undefined"};
			if (v === null) return {t: "null"};
			if (typeof v === "boolean") return {t: v ? "true" : "false"};
			if (typeof v === "number") return {t: "number", n: v};
			if (typeof v === "bigint") return {t: "bigint", s: v.toString()};
			if (typeof v === "string") return {t: "string", s: v};
			if (typeof v === "function") return {t: "unsupported", name: "Function"};
			if (typeof v === "symbol") return {t: "unsupported", name: "Symbol"};
			if (typeof v !== "object") return {t: "unsupported", name: typeof v};

			if (seen.has(v)) return {t: "ref", ref: seen.get(v)};

			var brand = brandOf(v);
			if (brand === "WeakMap" || brand === "WeakSet" || brand === "Promise" || brand === "Proxy") {
				return {t: "unsupported", name: brand};
			}

			if (brand === "Array") {
				var aid = nextId++; seen.set(v, aid);
				var items = [];
				for (var i = 0; i < v.length; i++) items.push(encodeValue(v[i]));
				return {t: "array", id: aid, items: items};
			}
			if (brand === "Date") {
				var did = nextId++; seen.set(v, did);
				return {t: "date", id: did, n: v.getTime()};
			}
			if (brand === "RegExp") {
				var rid = nextId++; seen.set(v, rid);
				return {t: "regexp", id: rid, s: v.source, flags: v.flags};
			}
			if (brand === "Map") {
				var mid = nextId++; seen.set(v, mid);
				var entries = [];
				v.forEach(function(val, key) { entries.push({k: encodeValue(key), v: encodeValue(val)}); });
				return {t: "map", id: mid, entries: entries};
			}
			if (brand === "Set") {
				var sid = nextId++; seen.set(v, sid);
				var sitems = [];
				v.forEach(function(val) { sitems.push(encodeValue(val)); });
				return {t: "set", id: sid, items: sitems};
			}
			if (v instanceof Error) {
				var eid = nextId++; seen.set(v, eid);
				var wireName = (v.constructor && v.constructor.name ? v.constructor.name : "Error").toLowerCase();
				if (errorCtorNames.indexOf(wireName) === -1) wireName = "error";
				return {t: wireName, id: eid, name: v.name || "Error", msg: v.message || ""};
			}
			if (brand === "ArrayBuffer") {
				var bid = nextId++; seen.set(v, bid);
				var bufName = "__cloneBuf" + (nextBuf++);
				globalThis[bufName] = v;
				return {t: "arraybuffer", id: bid, bin: bufName};
			}
			if (taTags[brand]) {
				var tid = nextId++; seen.set(v, tid);
				var viewNode = encodeValue(v.buffer);
				return {
					t: taTags[brand], id: tid, view: viewNode, off: v.byteOffset,
					len: brand === "DataView" ? v.byteLength : v.length
				};
			}

			// Plain object, including unknown brands (spec.md §4.4).
			var oid = nextId++; seen.set(v, oid);
			var props = [];
			for (var key in v) {
				if (Object.prototype.hasOwnProperty.call(v, key)) {
					props.push({k: key, v: encodeValue(v[key])});
				}
			}
			return {t: "object", id: oid, props: props};
		}

		return JSON.stringify(encodeValue(rootValue));
	};

	globalThis.__cloneDecode = function(jsonStr) {
		var root = JSON.parse(jsonStr);
		var refs = {};

		function decodeNode(n) {
			if (n.t === "ref") return refs[n.ref];
			switch (n.t) {
				case "undefined": return undefined;
				case "null": return null;
				case "true": return true;
				case "false": return false;
				case "number": return n.n;
				case "bigint": return BigInt(n.s);
				case "string": return n.s;
			}
			if (n.t === "object") {
				var o = {};
				refs[n.id] = o;
				for (var i = 0; i < n.props.length; i++) o[n.props[i].k] = decodeNode(n.props[i].v);
				return o;
			}
			if (n.t === "array") {
				var a = [];
				refs[n.id] = a;
				for (var j = 0; j < n.items.length; j++) a.push(decodeNode(n.items[j]));
				return a;
			}
			if (n.t === "date") {
				var d = new Date(n.n);
				refs[n.id] = d;
				return d;
			}
			if (n.t === "regexp") {
				var re = new RegExp(n.s, n.flags);
				refs[n.id] = re;
				return re;
			}
			if (n.t === "map") {
				var m = new Map();
				refs[n.id] = m;
				for (var k = 0; k < n.entries.length; k++) m.set(decodeNode(n.entries[k].k), decodeNode(n.entries[k].v));
				return m;
			}
			if (n.t === "set") {
				var s = new Set();
				refs[n.id] = s;
				for (var l = 0; l < n.items.length; l++) s.add(decodeNode(n.items[l]));
				return s;
			}
			if (errCtors[n.t]) {
				var e = new errCtors[n.t](n.msg);
				e.name = n.name;
				refs[n.id] = e;
				return e;
			}
			if (n.t === "arraybuffer") {
				var buf = globalThis[n.bin];
				delete globalThis[n.bin];
				refs[n.id] = buf;
				return buf;
			}
			if (n.t === "dataview") {
				var dvBuf = decodeNode(n.view);
				var dv = new DataView(dvBuf, n.off, n.len);
				refs[n.id] = dv;
				return dv;
			}
			if (taCtors[n.t]) {
				var taBuf = decodeNode(n.view);
				var ta = new taCtors[n.t](taBuf, n.off, n.len);
				refs[n.id] = ta;
				return ta;
			}
			throw new TypeError("cannot decode clone bridge node of type " + n.t);
		}

		return decodeNode(root);
	};
})();
`

// surfaceJS installs the web-worker-like surface: self/global, postMessage,
// addEventListener/removeEventListener, __handleMessage, console, timers,
// queueMicrotask, close. Matches the names spec.md §4.2 lists as the
// contract the embedded script environment must honor.
const surfaceJS = `
(function() {
	globalThis.self = globalThis;
	globalThis.global = globalThis;
	globalThis.__listeners = { message: [] };

	globalThis.postMessage = function(v) {
		var t = typeof v;
		if (t === "string" || t === "number" || t === "boolean" || v === null || v === undefined) {
			__native_post_message_to_host(String(v));
			return;
		}
		var json = __cloneEncode(v);
		var errMsg = __native_post_message_structured(json);
		if (errMsg) {
			var e = new Error(errMsg);
			e.name = "DataCloneError";
			throw e;
		}
	};

	globalThis.addEventListener = function(type, fn) {
		if (type !== "message" || typeof fn !== "function") return;
		globalThis.__listeners.message.push(fn);
	};
	globalThis.removeEventListener = function(type, fn) {
		if (type !== "message") return;
		var list = globalThis.__listeners.message;
		var idx = list.indexOf(fn);
		if (idx !== -1) list.splice(idx, 1);
	};

	globalThis.__handleMessage = function(data) {
		var evt = { data: data };
		if (typeof globalThis.onmessage === "function") {
			globalThis.onmessage(evt);
		}
		var list = globalThis.__listeners.message.slice();
		for (var i = 0; i < list.length; i++) list[i](evt);
	};

	globalThis.console = {
		log: function() { __native_console_log("log", Array.prototype.slice.call(arguments).join(" ")); },
		info: function() { __native_console_log("info", Array.prototype.slice.call(arguments).join(" ")); },
		warn: function() { __native_console_log("warn", Array.prototype.slice.call(arguments).join(" ")); },
		error: function() { __native_console_log("error", Array.prototype.slice.call(arguments).join(" ")); }
	};

	globalThis.queueMicrotask = globalThis.queueMicrotask || function(fn) {
		Promise.resolve().then(fn);
	};

	globalThis.close = function() {
		__native_request_close();
	};

	globalThis.__timerCallbacks = {};
	globalThis.setTimeout = function(fn, delay) {
		if (typeof fn !== "function") return 0;
		var args = Array.prototype.slice.call(arguments, 2);
		var id = __native_schedule_timer(Math.max(0, delay || 0), false);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args };
		return id;
	};
	globalThis.setInterval = function(fn, delay) {
		if (typeof fn !== "function") return 0;
		var args = Array.prototype.slice.call(arguments, 2);
		var id = __native_schedule_timer(Math.max(0, delay || 0), true);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args };
		return id;
	};
	globalThis.setImmediate = function(fn) {
		var args = Array.prototype.slice.call(arguments, 1);
		var id = __native_schedule_timer(0, false);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args };
		return id;
	};
	globalThis.clearTimeout = globalThis.clearInterval = globalThis.clearImmediate = function(id) {
		if (typeof id !== "number") return;
		__native_cancel_timer(id);
		delete globalThis.__timerCallbacks[id];
	};
})();
`

// consoleExtJS layers the non-essential console methods (time/count/
// assert/table/trace/group/dir) on top of the Go-backed base console,
// in the teacher's style (console.go's consoleExtJS).
const consoleExtJS = `
(function() {
var __timers = {};
var __counters = {};
var __groupDepth = 0;

console.time = function(label) {
	__timers[label || "default"] = Date.now();
};
console.timeEnd = function(label) {
	var l = label || "default";
	var start = __timers[l];
	if (start === undefined) { console.warn("Timer \"" + l + "\" does not exist"); return; }
	var elapsed = Date.now() - start;
	delete __timers[l];
	console.log(l + ": " + elapsed + "ms");
};
console.count = function(label) {
	var l = label || "default";
	__counters[l] = (__counters[l] || 0) + 1;
	console.log(l + ": " + __counters[l]);
};
console.countReset = function(label) {
	__counters[label || "default"] = 0;
};
console.assert = function(cond) {
	if (!cond) {
		var args = Array.prototype.slice.call(arguments, 1);
		console.error.apply(null, ["Assertion failed:"].concat(args));
	}
};
console.table = function(data) {
	console.log(JSON.stringify(data, null, 2));
};
console.trace = function() {
	console.log.apply(null, ["Trace:"].concat(Array.prototype.slice.call(arguments)));
};
console.group = function(label) {
	if (label) console.log(label);
	__groupDepth++;
};
console.groupEnd = function() {
	if (__groupDepth > 0) __groupDepth--;
};
console.dir = function(obj) {
	console.log(JSON.stringify(obj, null, 2));
};
})();
`

// evalResultJS stringifies the completion value of a host-submitted
// eval_script string per the rules in spec.md §6.3.
const evalResultJS = `
globalThis.__stringifyEvalResult = function(v) {
	if (typeof v === "string") return v;
	if (typeof v === "boolean") return v ? "true" : "false";
	if (v === null) return "null";
	if (v === undefined) return "undefined";
	if (typeof v === "number") return String(v);
	if (typeof v === "object") {
		try {
			var j = JSON.stringify(v);
			return j === undefined ? "[object Object]" : j;
		} catch (e) {
			return "[object Object]";
		}
	}
	return "[unknown]";
};
`

// timerFireJS invokes the stored JS callback for timerID, deleting the
// one-shot entry first so a callback that throws doesn't leave stale
// state. Mirrors the teacher's eventloop.go fireTimer snippet.
func timerFireJS(timerID uint64, repeating bool) string {
	if repeating {
		return fmt.Sprintf(`(function(){var e=globalThis.__timerCallbacks[%d];if(!e)return;e.fn.apply(null,e.args||[]);})()`, timerID)
	}
	return fmt.Sprintf(`(function(){var e=globalThis.__timerCallbacks[%d];if(!e)return;delete globalThis.__timerCallbacks[%d];e.fn.apply(null,e.args||[]);})()`, timerID, timerID)
}

// installBootstrap registers the native surface and evaluates the
// bootstrap scripts, in dependency order: clone bridge, then the
// web-worker surface (which calls into it from postMessage), then the
// extended console methods (which build on the base console).
func installBootstrap(w *Worker) error {
	if err := w.engine.RegisterFunc("__native_post_message_to_host", func(msg string) {
		if w.tracer != nil {
			_ = w.tracer.RecordText(string(w.id), trace.DirectionOutbound, msg)
		}
		w.onMessage(w.id, msg)
	}); err != nil {
		return fmt.Errorf("registering __native_post_message_to_host: %w", err)
	}

	if err := w.engine.RegisterFunc("__native_post_message_structured", func(json string) string {
		v, err := decodeBridgeJSON(w.engine, json)
		if err != nil {
			return err.Error()
		}
		data, err := clone.Write(v)
		if err != nil {
			return err.Error()
		}
		if w.tracer != nil {
			_ = w.tracer.RecordBinary(string(w.id), trace.DirectionOutbound, data)
		}
		w.onBinaryMessage(w.id, data)
		return ""
	}); err != nil {
		return fmt.Errorf("registering __native_post_message_structured: %w", err)
	}

	if err := w.engine.RegisterFunc("__native_console_log", func(level, msg string) {
		w.onConsole(w.id, level, msg)
	}); err != nil {
		return fmt.Errorf("registering __native_console_log: %w", err)
	}

	if err := w.engine.RegisterFunc("__native_request_close", func() {
		w.requestClose()
	}); err != nil {
		return fmt.Errorf("registering __native_request_close: %w", err)
	}

	if err := w.engine.RegisterFunc("__native_schedule_timer", func(delayMs int, repeating bool) int {
		return int(w.scheduleTimer(time.Duration(delayMs)*time.Millisecond, repeating))
	}); err != nil {
		return fmt.Errorf("registering __native_schedule_timer: %w", err)
	}

	if err := w.engine.RegisterFunc("__native_cancel_timer", func(id int) {
		w.cancelTimer(uint64(id))
	}); err != nil {
		return fmt.Errorf("registering __native_cancel_timer: %w", err)
	}

	if err := w.engine.Eval(cloneBridgeJS); err != nil {
		return fmt.Errorf("evaluating clone bridge polyfill: %w", err)
	}
	if err := w.engine.Eval(surfaceJS); err != nil {
		return fmt.Errorf("evaluating worker surface polyfill: %w", err)
	}
	if err := w.engine.Eval(consoleExtJS); err != nil {
		return fmt.Errorf("evaluating console extensions polyfill: %w", err)
	}
	if err := w.engine.Eval(evalResultJS); err != nil {
		return fmt.Errorf("evaluating eval-result stringifier: %w", err)
	}
	return nil
}
