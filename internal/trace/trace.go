// Package trace implements an opt-in, brotli-compressed rolling log of a
// worker's post_message / on_message traffic, for post-mortem debugging.
// It generalizes the teacher's CompressionStream/DecompressionStream Web
// API (compression.go) from a per-request JS-visible stream into a
// host-side diagnostic aid built on the same dependency.
package trace

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
)

// Direction identifies which side produced a traced payload.
type Direction string

const (
	DirectionInbound  Direction = "in"  // host -> worker (post_message)
	DirectionOutbound Direction = "out" // worker -> host (onmessage/on_binary_message)
)

// Kind identifies the payload shape of a traced entry.
type Kind string

const (
	KindText   Kind = "text"
	KindBinary Kind = "binary"
)

// entry is the JSON shape written (brotli-compressed) per record.
type entry struct {
	Session   string    `json:"session"`
	At        time.Time `json:"at"`
	WorkerID  string    `json:"worker_id"`
	Direction Direction `json:"direction"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text,omitempty"`
	BinaryLen int       `json:"binary_len,omitempty"`
	Binary    []byte    `json:"binary,omitempty"`
}

// DefaultMaxBytes is the rolling size cap used when Recorder is opened
// with maxBytes <= 0.
const DefaultMaxBytes = 16 * 1024 * 1024 // 16 MB

// Recorder appends brotli-compressed, length-framed records to a file,
// rotating (truncating) the file once it exceeds its size cap rather than
// growing unbounded — "rolling" in the sense that only the most recent
// window of traffic survives a long-running worker.
type Recorder struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	maxBytes int64
	curBytes int64
	session  string
}

// Open creates or appends to the trace file at path. maxBytes <= 0 uses
// DefaultMaxBytes. Each Open call gets a fresh session id, stamped on
// every entry it records, so entries from a restarted recorder can be
// told apart from the previous run even after rotation.
func Open(path string, maxBytes int64) (*Recorder, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening trace file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat trace file %q: %w", path, err)
	}
	return &Recorder{f: f, path: path, maxBytes: maxBytes, curBytes: info.Size(), session: uuid.NewString()}, nil
}

// RecordText logs an inbound or outbound text message.
func (r *Recorder) RecordText(workerID string, dir Direction, text string) error {
	return r.record(entry{Session: r.session, At: time.Now(), WorkerID: workerID, Direction: dir, Kind: KindText, Text: text})
}

// RecordBinary logs an inbound or outbound structured-clone payload.
func (r *Recorder) RecordBinary(workerID string, dir Direction, data []byte) error {
	return r.record(entry{
		Session: r.session, At: time.Now(), WorkerID: workerID, Direction: dir, Kind: KindBinary,
		BinaryLen: len(data), Binary: data,
	})
}

func (r *Recorder) record(e entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling trace entry: %w", err)
	}

	var compressed bytes.Buffer
	bw := brotli.NewWriter(&compressed)
	if _, err := bw.Write(raw); err != nil {
		bw.Close()
		return fmt.Errorf("compressing trace entry: %w", err)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("closing brotli writer: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curBytes+int64(compressed.Len())+4 > r.maxBytes {
		if err := r.rotateLocked(); err != nil {
			return err
		}
	}

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(compressed.Len()))
	if _, err := r.f.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("writing trace frame length: %w", err)
	}
	n, err := r.f.Write(compressed.Bytes())
	if err != nil {
		return fmt.Errorf("writing trace frame: %w", err)
	}
	r.curBytes += int64(n) + 4
	return nil
}

// rotateLocked truncates the trace file, dropping older records once the
// size cap is reached. Called with mu held.
func (r *Recorder) rotateLocked() error {
	if err := r.f.Truncate(0); err != nil {
		return fmt.Errorf("rotating trace file: %w", err)
	}
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking rotated trace file: %w", err)
	}
	r.curBytes = 0
	return nil
}

// Close flushes and closes the underlying trace file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// ReadAll decodes every record currently in the trace file at path, for
// offline inspection. Intended for tests and debugging tools, not the hot
// path.
func ReadAll(path string) ([]entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace file %q: %w", path, err)
	}

	var entries []entry
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("truncated trace frame length in %q", path)
		}
		frameLen := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < frameLen {
			return nil, fmt.Errorf("truncated trace frame body in %q", path)
		}
		frame := data[:frameLen]
		data = data[frameLen:]

		br := brotli.NewReader(bytes.NewReader(frame))
		raw, err := io.ReadAll(br)
		if err != nil {
			return nil, fmt.Errorf("decompressing trace frame: %w", err)
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decoding trace entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
