// Package world holds the client's view of the game scene. All state lives
// behind a single lock inside Model; mutation is only possible through the Tx
// handed to Model.Update and reads through the Snapshot handed to Model.View
// or the copying accessors.
package world

import (
	"errors"
	"sort"

	"github.com/sasha-s/go-deadlock"

	"cellwire/client/internal/wire"
)

var (
	// ErrReservedID rejects id 0, which terminates cell lists on the wire.
	ErrReservedID = errors.New("world: entity id 0 is reserved")
	// ErrTxClosed is returned when a Tx is used after its Update returned.
	ErrTxClosed = errors.New("world: transaction used outside Update")
)

// LeaderboardEntry is one ranked player.
type LeaderboardEntry = wire.LeaderboardEntry

// Point is a world space coordinate.
type Point struct {
	X, Y float64
}

// Viewport is the world rectangle announced by the server.
type Viewport struct {
	Left, Top, Right, Bottom float64
}

func (v Viewport) Center() Point {
	return Point{X: (v.Left + v.Right) / 2, Y: (v.Top + v.Bottom) / 2}
}

// Extent is the width and height of the rectangle.
func (v Viewport) Extent() Point {
	return Point{X: v.Right - v.Left, Y: v.Bottom - v.Top}
}

// Leaderboard holds either the ranked names or the team angles, never both.
type Leaderboard struct {
	Names  []LeaderboardEntry
	Groups []float32
}

// Grouped reports whether the snapshot came from a team mode server.
func (l Leaderboard) Grouped() bool { return l.Groups != nil }

func (l Leaderboard) clone() Leaderboard {
	// make+copy keeps an empty but present snapshot distinguishable from none.
	var out Leaderboard
	if l.Names != nil {
		out.Names = make([]LeaderboardEntry, len(l.Names))
		copy(out.Names, l.Names)
	}
	if l.Groups != nil {
		out.Groups = make([]float32, len(l.Groups))
		copy(out.Groups, l.Groups)
	}
	return out
}

// Model is the locked scene container.
type Model struct {
	mu       deadlock.RWMutex
	entities map[uint32]Entity
	owned    map[uint32]struct{}
	viewport Viewport
	board    Leaderboard
}

// NewModel returns an empty scene.
func NewModel() *Model {
	return &Model{
		entities: make(map[uint32]Entity),
		owned:    make(map[uint32]struct{}),
	}
}

// Update runs fn with exclusive access. The lock is released on every exit
// path, including a panic inside fn. fn must not call back into the Model.
func (m *Model) Update(fn func(tx *Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &Tx{reader: reader{m: m}}
	defer func() { tx.closed = true }()
	return fn(tx)
}

// View runs fn under the read lock so traversals see one consistent state.
func (m *Model) View(fn func(s *Snapshot)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(&Snapshot{reader: reader{m: m}})
}

// Reset clears entities, ownership, leaderboard and viewport at once.
func (m *Model) Reset() {
	_ = m.Update(func(tx *Tx) error { return tx.Reset() })
}

// Entity returns a copy of one entity.
func (m *Model) Entity(id uint32) (Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	return e, ok
}

// Entities returns copies of every entity ordered by id.
func (m *Model) Entities() []Entity {
	var out []Entity
	m.View(func(s *Snapshot) { out = s.Entities() })
	return out
}

// OwnedIDs returns the ownership set ordered by id.
func (m *Model) OwnedIDs() []uint32 {
	var out []uint32
	m.View(func(s *Snapshot) { out = s.OwnedIDs() })
	return out
}

// OwnedEntities returns copies of the locally controlled cells ordered by id.
func (m *Model) OwnedEntities() []Entity {
	var out []Entity
	m.View(func(s *Snapshot) { out = s.OwnedEntities() })
	return out
}

func (m *Model) Viewport() Viewport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewport
}

func (m *Model) Leaderboard() Leaderboard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.board.clone()
}

// Len reports the number of live entities.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

// reader implements the queries shared by Tx and Snapshot. Callers hold the lock.
type reader struct {
	m *Model
}

func (r reader) Entity(id uint32) (Entity, bool) {
	e, ok := r.m.entities[id]
	return e, ok
}

func (r reader) Len() int { return len(r.m.entities) }

// Each visits entities in unspecified order until fn returns false.
func (r reader) Each(fn func(Entity) bool) {
	for _, e := range r.m.entities {
		if !fn(e) {
			return
		}
	}
}

func (r reader) Entities() []Entity {
	out := make([]Entity, 0, len(r.m.entities))
	for _, e := range r.m.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r reader) IsOwned(id uint32) bool {
	_, ok := r.m.owned[id]
	return ok
}

func (r reader) OwnedCount() int { return len(r.m.owned) }

func (r reader) OwnedIDs() []uint32 {
	out := make([]uint32, 0, len(r.m.owned))
	for id := range r.m.owned {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r reader) OwnedEntities() []Entity {
	ids := r.OwnedIDs()
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.m.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (r reader) Viewport() Viewport { return r.m.viewport }

func (r reader) Leaderboard() Leaderboard { return r.m.board.clone() }

// Snapshot is the read-only handle passed to View.
type Snapshot struct {
	reader
}

// Tx is the mutation handle passed to Update. Its methods may call each other
// freely; none of them takes the lock again.
type Tx struct {
	reader
	closed bool
}

func (tx *Tx) check(id uint32) error {
	if tx.closed {
		return ErrTxClosed
	}
	if id == 0 {
		return ErrReservedID
	}
	return nil
}

// UpsertEntity creates the entity on first reference and overwrites its
// fields from the update. created reports whether it was new.
func (tx *Tx) UpsertEntity(c wire.CellUpdate) (e Entity, created bool, err error) {
	if err := tx.check(c.ID); err != nil {
		return Entity{}, false, err
	}
	e, ok := tx.m.entities[c.ID]
	e.apply(c)
	tx.m.entities[c.ID] = e
	return e, !ok, nil
}

// Ensure creates a blank entity if id is unknown and returns the current copy.
func (tx *Tx) Ensure(id uint32) (Entity, bool, error) {
	if err := tx.check(id); err != nil {
		return Entity{}, false, err
	}
	if e, ok := tx.m.entities[id]; ok {
		return e, false, nil
	}
	e := Entity{ID: id}
	tx.m.entities[id] = e
	return e, true, nil
}

// RemoveEntity deletes the entity and drops it from the ownership set, so
// ownership never outlives the entity it names.
func (tx *Tx) RemoveEntity(id uint32) (Entity, bool) {
	if tx.closed {
		return Entity{}, false
	}
	e, ok := tx.m.entities[id]
	if !ok {
		return Entity{}, false
	}
	delete(tx.m.entities, id)
	delete(tx.m.owned, id)
	return e, true
}

// Own adds id to the ownership set, creating the entity first when needed.
func (tx *Tx) Own(id uint32) error {
	if _, _, err := tx.Ensure(id); err != nil {
		return err
	}
	tx.m.owned[id] = struct{}{}
	return nil
}

// Disown removes id from the ownership set and reports whether it was a member.
func (tx *Tx) Disown(id uint32) bool {
	if tx.closed {
		return false
	}
	_, ok := tx.m.owned[id]
	delete(tx.m.owned, id)
	return ok
}

func (tx *Tx) ClearOwnership() error {
	if tx.closed {
		return ErrTxClosed
	}
	clear(tx.m.owned)
	return nil
}

// ReplaceViewport swaps the whole rectangle.
func (tx *Tx) ReplaceViewport(v Viewport) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.m.viewport = v
	return nil
}

// ReplaceLeaderboardNames installs a ranked snapshot and drops any team angles.
func (tx *Tx) ReplaceLeaderboardNames(entries []LeaderboardEntry) error {
	if tx.closed {
		return ErrTxClosed
	}
	names := make([]LeaderboardEntry, len(entries))
	copy(names, entries)
	tx.m.board = Leaderboard{Names: names}
	return nil
}

// ReplaceLeaderboardGroups installs a team snapshot and drops any ranked names.
func (tx *Tx) ReplaceLeaderboardGroups(angles []float32) error {
	if tx.closed {
		return ErrTxClosed
	}
	groups := make([]float32, len(angles))
	copy(groups, angles)
	tx.m.board = Leaderboard{Groups: groups}
	return nil
}

// Reset clears entities, ownership, leaderboard and viewport.
func (tx *Tx) Reset() error {
	if tx.closed {
		return ErrTxClosed
	}
	clear(tx.m.entities)
	clear(tx.m.owned)
	tx.m.viewport = Viewport{}
	tx.m.board = Leaderboard{}
	return nil
}
