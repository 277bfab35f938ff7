// Package captureinspect summarises capture bundles offline by feeding their
// frames through a fresh session, exactly as the receive loop would.
package captureinspect

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cellwire/client/internal/capture"
	"cellwire/client/internal/config"
	"cellwire/client/internal/logging"
	"cellwire/client/internal/session"
	"cellwire/client/internal/wire"
	"cellwire/client/internal/world"
)

// Report is the summary printed for one bundle.
type Report struct {
	Path        string             `json:"path"`
	Manifest    capture.Manifest   `json:"manifest"`
	Frames      int                `json:"frames"`
	Opcodes     map[string]int     `json:"opcodes"`
	Events      map[string]int     `json:"events"`
	Errors      map[string]int     `json:"errors,omitempty"`
	Stats       session.Stats      `json:"stats"`
	Deaths      int                `json:"deaths"`
	Respawns    int                `json:"respawns"`
	Entities    int                `json:"entities"`
	Owned       []uint32           `json:"owned"`
	Viewport    world.Viewport     `json:"viewport"`
	Leaderboard world.Leaderboard  `json:"leaderboard"`
	Aggregates  session.Aggregates `json:"aggregates"`
	Versions    []string           `json:"server_versions,omitempty"`
}

// tally counts the observer events that matter for a summary.
type tally struct {
	session.NopObserver
	mu       sync.Mutex
	deaths   int
	respawns int
	errors   map[string]int
	versions []string
}

func (t *tally) Death(world.Entity) {
	t.mu.Lock()
	t.deaths++
	t.mu.Unlock()
}

func (t *tally) Respawn() {
	t.mu.Lock()
	t.respawns++
	t.mu.Unlock()
}

func (t *tally) ServerVersion(number uint32, text string) {
	t.mu.Lock()
	t.versions = append(t.versions, fmt.Sprintf("%d %s", number, text))
	t.mu.Unlock()
}

func (t *tally) TransportError(category session.ErrorCategory, _ string) {
	t.mu.Lock()
	t.errors[string(category)]++
	t.mu.Unlock()
}

// Inspect loads the bundle at path and replays its frames in sequence order.
// Replay diagnostics go to logger, or to the process logger when nil.
func Inspect(path string, logger *logging.Logger) (*Report, error) {
	bundle, err := capture.Open(path)
	if err != nil {
		return nil, err
	}

	//1.- Replay in capture order; sequence numbers are monotonic per session.
	frames := append([]capture.Frame(nil), bundle.Frames...)
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Seq < frames[j].Seq })

	if logger == nil {
		logger = logging.L()
	}
	counts := &tally{errors: make(map[string]int)}
	s := session.New(config.SessionConfig{},
		session.WithObserver(counts),
		session.WithLogger(logger.With(logging.String("bundle", bundle.Path))),
	)
	report := &Report{
		Path:     bundle.Path,
		Manifest: bundle.Manifest,
		Frames:   len(frames),
		Opcodes:  make(map[string]int),
		Events:   make(map[string]int),
	}
	for _, frame := range frames {
		if len(frame.Payload) == 0 {
			report.Opcodes["empty"]++
		} else {
			report.Opcodes[wire.Opcode(frame.Payload[0]).String()]++
		}
		// Decode failures are already tallied by the observer.
		_ = s.HandleFrame(frame.Payload)
	}
	for _, event := range bundle.Events {
		report.Events[event.Type]++
	}

	//2.- Snapshot the final world exactly as a live reader would see it.
	model := s.World()
	report.Stats = s.Stats()
	report.Entities = model.Len()
	report.Owned = model.OwnedIDs()
	sort.Slice(report.Owned, func(i, j int) bool { return report.Owned[i] < report.Owned[j] })
	report.Viewport = model.Viewport()
	report.Leaderboard = model.Leaderboard()
	report.Aggregates = s.Aggregates()

	counts.mu.Lock()
	report.Deaths = counts.deaths
	report.Respawns = counts.respawns
	report.Versions = counts.versions
	if len(counts.errors) > 0 {
		report.Errors = counts.errors
	}
	counts.mu.Unlock()
	return report, nil
}

// Entry is one bundle found beneath a capture root.
type Entry struct {
	Path     string           `json:"path"`
	Manifest capture.Manifest `json:"manifest"`
	created  time.Time
}

// List walks root and returns every bundle manifest, oldest first.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "manifest.json" {
			return nil
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var manifest capture.Manifest
		if err := json.Unmarshal(payload, &manifest); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		created, _ := time.Parse(time.RFC3339Nano, manifest.CreatedAt)
		entries = append(entries, Entry{Path: filepath.Dir(path), Manifest: manifest, created: created})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].created.Equal(entries[j].created) {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].created.Before(entries[j].created)
	})
	return entries, nil
}

// Marshal renders v as indented JSON for CLI output.
func Marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
