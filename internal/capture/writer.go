// Package capture records raw inbound frames and session events into an
// on-disk bundle for offline diagnosis. A bundle is a directory holding
// manifest.json, frames.bin.zst and events.jsonl.sz.
package capture

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"cellwire/client/internal/wire"
)

const (
	// ManifestVersion is bumped whenever the bundle layout changes.
	ManifestVersion = 1

	manifestName = "manifest.json"
	framesName   = "frames.bin.zst"
	eventsName   = "events.jsonl.sz"

	// frameHeaderSize is u64 seq, u64 captured unix nanos, u32 length.
	frameHeaderSize = 8 + 8 + 4
	flushInterval   = 200 * time.Millisecond
)

var labelCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("capture: writer closed")

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	Label           string `json:"label"`
	ProtocolVersion uint32 `json:"protocol_version"`
	ClientBuild     uint32 `json:"client_build"`
	FlushIntervalMs int    `json:"flush_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

type pendingFrame struct {
	seq      uint64
	captured time.Time
	payload  []byte
}

// Writer streams frames and events to a new bundle directory. Frames are
// buffered and written in batches; events are flushed as they arrive.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []pendingFrame
	lastFlush   time.Time
	closed      bool
}

// NewWriter creates <root>/<label>-<UTC stamp>/ and opens the compressed sinks.
func NewWriter(root, label string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("capture root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := labelCleaner.ReplaceAllString(label, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405.000Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         ManifestVersion,
		CreatedAt:       created.Format(time.RFC3339Nano),
		Label:           cleaned,
		ProtocolVersion: wire.ProtocolVersion,
		ClientBuild:     wire.ClientBuild,
		FlushIntervalMs: int(flushInterval / time.Millisecond),
		EventsPath:      eventsName,
		FramesPath:      framesName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(path, manifestName), append(data, '\n'), 0o644); err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsName))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(path, framesName))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	w := &Writer{
		dir:         path,
		now:         clock,
		eventFile:   eventFile,
		eventStream: snappy.NewBufferedWriter(eventFile),
		frameFile:   frameFile,
		frameStream: frameStream,
	}
	return w, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendFrame stages a copy of frame and writes the batch once the flush
// interval has elapsed since the previous write.
func (w *Writer) AppendFrame(seq uint64, frame []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()
	clone := append([]byte(nil), frame...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.pending = append(w.pending, pendingFrame{seq: seq, captured: captured, payload: clone})
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= flushInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// AppendEvent writes one JSON line. payload must be valid JSON or empty.
func (w *Writer) AppendEvent(seq uint64, kind string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	record := eventLine{
		Seq:        seq,
		CapturedAt: captured.Format(time.RFC3339Nano),
		Type:       kind,
	}
	if len(payload) > 0 {
		record.Payload = json.RawMessage(payload)
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// Flush forces pending frames to be written regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close flushes every buffer and releases the files. It is safe to call twice.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every flush and close, surfacing the first failure.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(w.flushLocked())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())
	return firstErr
}

// flushLocked writes buffered frames through the zstd stream to disk; callers
// hold mu. A frame leaves pending once handed to the encoder, so a failed
// flush never writes the same record twice.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	header := make([]byte, frameHeaderSize)
	for i, frame := range w.pending {
		binary.LittleEndian.PutUint64(header[0:8], frame.seq)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.captured.UnixNano()))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(frame.payload)))
		_, err := w.frameStream.Write(header)
		if err == nil {
			_, err = w.frameStream.Write(frame.payload)
		}
		if err != nil {
			w.pending = w.pending[i+1:]
			return fmt.Errorf("write frame %d: %w", frame.seq, err)
		}
	}
	w.pending = w.pending[:0]
	//1.- The encoder buffers whole blocks; push the batch out so it reaches the file now.
	return w.frameStream.Flush()
}

type eventLine struct {
	Seq        uint64          `json:"seq"`
	CapturedAt string          `json:"captured_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
