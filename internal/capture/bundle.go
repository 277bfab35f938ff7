package capture

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Event is one decoded line of events.jsonl.sz.
type Event struct {
	Seq        uint64          `json:"seq"`
	CapturedAt time.Time       `json:"captured_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Frame is one raw inbound message as the session received it.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Payload    []byte
}

// Bundle is the full contents of a capture directory.
type Bundle struct {
	Path     string
	Manifest Manifest
	Events   []Event
	Frames   []Frame
}

// Open loads the manifest, events and frames stored in dir.
func Open(dir string) (*Bundle, error) {
	if dir == "" {
		return nil, fmt.Errorf("bundle path must be provided")
	}
	payload, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	events, err := loadEvents(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return nil, err
	}
	frames, err := loadFrames(filepath.Join(dir, manifest.FramesPath))
	if err != nil {
		return nil, err
	}
	return &Bundle{Path: dir, Manifest: manifest, Events: events, Frames: frames}, nil
}

func loadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var events []Event
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

func loadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frames: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("open frame stream: %w", err)
	}
	defer decoder.Close()

	var frames []Frame
	header := make([]byte, frameHeaderSize)
	for {
		//1.- A clean EOF on a header boundary ends the stream.
		if _, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, fmt.Errorf("read frame header %d: %w", len(frames), err)
		}
		seq := binary.LittleEndian.Uint64(header[0:8])
		captured := int64(binary.LittleEndian.Uint64(header[8:16]))
		size := binary.LittleEndian.Uint32(header[16:20])

		//2.- The payload must be fully present; a short body is corruption.
		payload := make([]byte, size)
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, fmt.Errorf("read frame %d payload: %w", len(frames), err)
		}
		frames = append(frames, Frame{Seq: seq, CapturedAt: time.Unix(0, captured).UTC(), Payload: payload})
	}
}
