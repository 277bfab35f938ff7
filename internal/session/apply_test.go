package session

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"cellwire/client/internal/config"
	"cellwire/client/internal/logging"
	"cellwire/client/internal/wire"
	"cellwire/client/internal/wire/wiretest"
	"cellwire/client/internal/world"
)

// recorder logs every event as a short string and checks that the last cell
// is still in the model when death is reported.
type recorder struct {
	mu     sync.Mutex
	events []string
	model  *world.Model

	deathSawCell bool
	closed       int
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func (r *recorder) closedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) WorldUpdateBegin()               { r.add("begin") }
func (r *recorder) WorldUpdateEnd()                 { r.add("end") }
func (r *recorder) EntityUpdated(e world.Entity)    { r.add("updated:%d", e.ID) }
func (r *recorder) EntityRemoved(id uint32)         { r.add("removed:%d", id) }
func (r *recorder) EntityEaten(eater, eaten uint32) { r.add("eaten:%d>%d", eater, eaten) }
func (r *recorder) Respawn()                        { r.add("respawn") }
func (r *recorder) OwnIDAssigned(id uint32)         { r.add("own:%d", id) }
func (r *recorder) WorldRectSet(world.Viewport)     { r.add("rect") }
func (r *recorder) ClearCells()                     { r.add("clear") }
func (r *recorder) DebugLine(x, y int16)            { r.add("debug:%d,%d", x, y) }

func (r *recorder) Death(last world.Entity) {
	if r.model != nil {
		_, ok := r.model.Entity(last.ID)
		r.mu.Lock()
		r.deathSawCell = ok
		r.mu.Unlock()
	}
	r.add("death:%d", last.ID)
}

func (r *recorder) ServerVersion(number uint32, text string) {
	r.add("version:%d:%s", number, text)
}

func (r *recorder) LeaderboardNamesUpdated(entries []world.LeaderboardEntry) {
	r.add("names:%d", len(entries))
}

func (r *recorder) LeaderboardGroupsUpdated(angles []float32) {
	r.add("groups:%d", len(angles))
}

func (r *recorder) ExperienceInfoUpdated(level, current, next uint32) {
	r.add("xp:%d:%d:%d", level, current, next)
}

func (r *recorder) SpectateUpdated(x, y, scale float32) {
	r.add("spectate:%v,%v,%v", x, y, scale)
}

func (r *recorder) TransportError(category ErrorCategory, _ string) {
	r.add("error:%s", category)
}

func (r *recorder) ConnectionClosed() {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	r.add("closed")
}

func newOfflineSession(t *testing.T) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := New(config.SessionConfig{}, WithObserver(rec), WithLogger(logging.NewTestLogger()))
	rec.model = s.World()
	return s, rec
}

func mustHandle(t *testing.T, s *Session, frame []byte) {
	t.Helper()
	if err := s.HandleFrame(frame); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
}

func expectEvents(t *testing.T, rec *recorder, want ...string) {
	t.Helper()
	if got := rec.take(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events:\n got %v\nwant %v", got, want)
	}
}

func TestDeathFiresBeforeLastCellIsRemoved(t *testing.T) {
	s, rec := newOfflineSession(t)
	mustHandle(t, s, wiretest.OwnID(5))
	mustHandle(t, s, wiretest.WorldUpdate(nil, []wiretest.Cell{{ID: 5, Size: 40, Name: "me"}, {ID: 9, Size: 90}}, nil))
	rec.take()

	mustHandle(t, s, wiretest.WorldUpdate([]wire.EatPair{{Eater: 9, Eaten: 5}}, nil, nil))
	expectEvents(t, rec, "begin", "eaten:9>5", "death:5", "removed:5", "end")
	if !rec.deathSawCell {
		t.Fatalf("death must be reported while the cell is still in the model")
	}
	if ids := s.World().OwnedIDs(); len(ids) != 0 {
		t.Fatalf("expected empty ownership after death, got %v", ids)
	}
	if _, ok := s.World().Entity(5); ok {
		t.Fatalf("eaten cell should be removed")
	}
	if s.Alive() {
		t.Fatalf("session should not be alive after death")
	}
}

func TestEatenSplitCellIsRemovedSilently(t *testing.T) {
	s, rec := newOfflineSession(t)
	mustHandle(t, s, wiretest.OwnID(5))
	mustHandle(t, s, wiretest.OwnID(6))
	rec.take()

	mustHandle(t, s, wiretest.WorldUpdate([]wire.EatPair{{Eater: 9, Eaten: 5}}, nil, nil))
	expectEvents(t, rec, "begin", "eaten:9>5", "removed:5", "end")
	if ids := s.World().OwnedIDs(); !reflect.DeepEqual(ids, []uint32{6}) {
		t.Fatalf("expected ownership {6}, got %v", ids)
	}
}

func TestBothOwnedCellsEatenInOneBatch(t *testing.T) {
	s, rec := newOfflineSession(t)
	mustHandle(t, s, wiretest.OwnID(5))
	mustHandle(t, s, wiretest.OwnID(6))
	rec.take()

	mustHandle(t, s, wiretest.WorldUpdate([]wire.EatPair{{Eater: 9, Eaten: 5}, {Eater: 9, Eaten: 6}}, nil, nil))
	expectEvents(t, rec, "begin", "eaten:9>5", "eaten:9>6", "death:6", "removed:5", "removed:6", "end")
	if !rec.deathSawCell {
		t.Fatalf("the last cell should still exist when death fires")
	}
}

func TestRespawnScenario(t *testing.T) {
	s, rec := newOfflineSession(t)

	mustHandle(t, s, wiretest.OwnID(5))
	expectEvents(t, rec, "respawn", "own:5")

	mustHandle(t, s, wiretest.OwnID(9))
	expectEvents(t, rec, "own:9")

	if ids := s.World().OwnedIDs(); !reflect.DeepEqual(ids, []uint32{5, 9}) {
		t.Fatalf("expected ownership {5, 9}, got %v", ids)
	}
	for _, id := range []uint32{5, 9} {
		if _, ok := s.World().Entity(id); !ok {
			t.Fatalf("owned id %d has no entity", id)
		}
	}
}

func TestOwnIDZeroIsRejected(t *testing.T) {
	s, rec := newOfflineSession(t)
	if err := s.HandleFrame(wiretest.OwnID(0)); !errors.Is(err, world.ErrReservedID) {
		t.Fatalf("expected ErrReservedID, got %v", err)
	}
	expectEvents(t, rec, "error:anomaly")
	if s.World().Len() != 0 {
		t.Fatalf("model should be unchanged")
	}
}

func TestUnknownOpcodeLeavesModelUnchanged(t *testing.T) {
	s, rec := newOfflineSession(t)
	mustHandle(t, s, wiretest.OwnID(5))
	mustHandle(t, s, wiretest.WorldUpdate(nil, []wiretest.Cell{{ID: 5, X: 3, Y: 4, Size: 40}}, nil))
	before := s.World().Entities()
	ownedBefore := s.World().OwnedIDs()
	rec.take()

	err := s.HandleFrame([]byte{0xFE, 1, 2, 3, 4})
	if !errors.Is(err, wire.ErrUnknownOpcode) {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
	expectEvents(t, rec, "error:unknown_opcode")
	if !reflect.DeepEqual(before, s.World().Entities()) || !reflect.DeepEqual(ownedBefore, s.World().OwnedIDs()) {
		t.Fatalf("world changed after unknown opcode")
	}
	stats := s.Stats()
	if stats.UnknownOpcodes != 1 || stats.FramesDropped != 1 || stats.FramesApplied != 2 || stats.FramesReceived != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestTruncatedFrameIsDropped(t *testing.T) {
	s, rec := newOfflineSession(t)
	frame := wiretest.WorldUpdate(nil, []wiretest.Cell{{ID: 5, Size: 40, Name: "x"}}, []uint32{1})
	err := s.HandleFrame(frame[:len(frame)-2])
	if !errors.Is(err, wire.ErrUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	expectEvents(t, rec, "error:underflow")
	if s.World().Len() != 0 {
		t.Fatalf("a dropped frame must not modify the world")
	}
	if stats := s.Stats(); stats.Underflows != 1 || stats.FramesDropped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// The session keeps working after a bad frame.
	mustHandle(t, s, frame)
	if s.World().Len() != 1 {
		t.Fatalf("expected the intact frame to apply")
	}
}

func TestWorldUpdateIsIdempotent(t *testing.T) {
	s, _ := newOfflineSession(t)
	frame := wiretest.WorldUpdate(nil, []wiretest.Cell{
		{ID: 1, X: 10, Y: 20, Size: 30, R: 1, G: 2, B: 3, Name: "a"},
		{ID: 2, X: -10, Y: -20, Size: 120, Virus: true},
	}, nil)
	mustHandle(t, s, frame)
	first := s.World().Entities()
	mustHandle(t, s, frame)
	if second := s.World().Entities(); !reflect.DeepEqual(first, second) {
		t.Fatalf("second application changed the world:\n%+v\n%+v", first, second)
	}
}

func TestRemovalListDropsOwnership(t *testing.T) {
	s, rec := newOfflineSession(t)
	mustHandle(t, s, wiretest.OwnID(5))
	mustHandle(t, s, wiretest.OwnID(6))
	rec.take()

	mustHandle(t, s, wiretest.WorldUpdate(nil, []wiretest.Cell{{ID: 5, Size: 60}}, []uint32{6, 77}))
	expectEvents(t, rec, "begin", "updated:5", "removed:6", "end")
	if ids := s.World().OwnedIDs(); !reflect.DeepEqual(ids, []uint32{5}) {
		t.Fatalf("merged cell should leave ownership, got %v", ids)
	}
}

func TestOwnershipInvariantUnderRandomTraffic(t *testing.T) {
	s, _ := newOfflineSession(t)
	rng := rand.New(rand.NewSource(7))
	for step := 0; step < 500; step++ {
		var frame []byte
		switch rng.Intn(5) {
		case 0:
			frame = wiretest.OwnID(uint32(rng.Intn(20) + 1))
		case 1:
			frame = wiretest.ClearCells()
		default:
			var eaten []wire.EatPair
			for i := rng.Intn(3); i > 0; i-- {
				eaten = append(eaten, wire.EatPair{Eater: uint32(rng.Intn(20) + 1), Eaten: uint32(rng.Intn(20) + 1)})
			}
			var cells []wiretest.Cell
			for i := rng.Intn(4); i > 0; i-- {
				cells = append(cells, wiretest.Cell{ID: uint32(rng.Intn(20) + 1), Size: int16(rng.Intn(200))})
			}
			var removed []uint32
			for i := rng.Intn(2); i > 0; i-- {
				removed = append(removed, uint32(rng.Intn(20)+1))
			}
			frame = wiretest.WorldUpdate(eaten, cells, removed)
		}
		mustHandle(t, s, frame)
		s.World().View(func(snap *world.Snapshot) {
			for _, id := range snap.OwnedIDs() {
				if _, ok := snap.Entity(id); !ok {
					t.Fatalf("step %d: owned id %d has no entity", step, id)
				}
			}
		})
	}
}

func TestAggregatesFollowOwnedCells(t *testing.T) {
	s, _ := newOfflineSession(t)
	if agg := s.Aggregates(); agg.Scale != 1 || agg.TotalSize != 0 {
		t.Fatalf("unexpected initial aggregates %+v", agg)
	}

	mustHandle(t, s, wiretest.OwnID(1))
	mustHandle(t, s, wiretest.OwnID(2))
	mustHandle(t, s, wiretest.WorldUpdate(nil, []wiretest.Cell{
		{ID: 1, X: 0, Y: 0, Size: 32},
		{ID: 2, X: 100, Y: 50, Size: 32},
		{ID: 3, X: 9999, Y: 9999, Size: 500},
	}, nil))
	agg := s.Aggregates()
	if agg.TotalSize != 64 || agg.Scale != 1 {
		t.Fatalf("unexpected size/scale %+v", agg)
	}
	if math.Abs(agg.TotalMass-20.48) > 1e-9 {
		t.Fatalf("unexpected mass %v", agg.TotalMass)
	}
	if agg.Center != (world.Point{X: 50, Y: 25}) {
		t.Fatalf("unexpected center %+v", agg.Center)
	}

	mustHandle(t, s, wiretest.WorldUpdate(nil, []wiretest.Cell{{ID: 1, Size: 256}}, []uint32{2}))
	agg = s.Aggregates()
	if want := math.Pow(64.0/256.0, 0.4); math.Abs(agg.Scale-want) > 1e-12 {
		t.Fatalf("expected scale %v, got %v", want, agg.Scale)
	}

	mustHandle(t, s, wiretest.WorldUpdate([]wire.EatPair{{Eater: 3, Eaten: 1}}, nil, nil))
	agg = s.Aggregates()
	if agg.TotalSize != 0 || agg.Scale != 1 || agg.Center != (world.Point{}) {
		t.Fatalf("center should be kept and scale reset, got %+v", agg)
	}

	mustHandle(t, s, wiretest.WorldRect(-100, -100, 300, 100, nil))
	if c := s.Aggregates().Center; c != (world.Point{X: 100, Y: 0}) {
		t.Fatalf("world rect should recentre, got %+v", c)
	}
	mustHandle(t, s, wiretest.SpectateUpdate(12, -8, 0.5))
	if agg := s.Aggregates(); agg.Center != (world.Point{X: 12, Y: -8}) || agg.Scale != 0.5 {
		t.Fatalf("spectate should override center and scale, got %+v", agg)
	}
}

func TestClearCellsResetsWorld(t *testing.T) {
	s, rec := newOfflineSession(t)
	mustHandle(t, s, wiretest.OwnID(5))
	mustHandle(t, s, wiretest.WorldRect(0, 0, 10, 10, nil))
	mustHandle(t, s, wiretest.LeaderboardNames(wire.LeaderboardEntry{ID: 5, Name: "me"}))
	rec.take()

	mustHandle(t, s, wiretest.ClearCells())
	expectEvents(t, rec, "clear")
	m := s.World()
	if m.Len() != 0 || len(m.OwnedIDs()) != 0 || m.Viewport() != (world.Viewport{}) || m.Leaderboard().Names != nil {
		t.Fatalf("clear cells should reset the world")
	}
	if s.Aggregates().TotalSize != 0 {
		t.Fatalf("aggregates should be recomputed after clear")
	}
}

func TestSmallRecordEvents(t *testing.T) {
	s, rec := newOfflineSession(t)
	mustHandle(t, s, wiretest.WorldRect(0, 0, 10, 10, &wire.ServerVersion{Number: 2, Text: "beta"}))
	mustHandle(t, s, wiretest.LeaderboardNames(wire.LeaderboardEntry{ID: 1, Name: "a"}, wire.LeaderboardEntry{ID: 2, Name: "b"}))
	mustHandle(t, s, wiretest.LeaderboardGroups(0.5, 0.5))
	mustHandle(t, s, wiretest.ExperienceInfo(3, 10, 20))
	mustHandle(t, s, wiretest.DebugLine(-1, 2))
	mustHandle(t, s, wiretest.SpectateUpdate(1, 2, 0.25))
	expectEvents(t, rec,
		"rect", "version:2:beta",
		"names:2",
		"groups:2",
		"xp:3:10:20",
		"debug:-1,2",
		"spectate:1,2,0.25",
	)
	if board := s.World().Leaderboard(); !board.Grouped() || board.Names != nil {
		t.Fatalf("team board should replace names, got %+v", board)
	}
	if v := s.World().Viewport(); v.Right != 10 || v.Bottom != 10 {
		t.Fatalf("unexpected viewport %+v", v)
	}
}

func TestAnomaliesAndLeftoverAreCounted(t *testing.T) {
	s, rec := newOfflineSession(t)
	mustHandle(t, s, wiretest.WorldUpdate(nil, []wiretest.Cell{{ID: 4, Size: 50, Skin: "nope", Name: "n"}}, nil))
	expectEvents(t, rec, "error:anomaly", "begin", "updated:4", "end")

	mustHandle(t, s, append(wiretest.ExperienceInfo(1, 2, 3), 0, 0))
	stats := s.Stats()
	if stats.Anomalies != 1 || stats.LeftoverBytes != 2 || stats.FramesDropped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestOfflineFramesDoNotEnterGame(t *testing.T) {
	s, _ := newOfflineSession(t)
	mustHandle(t, s, wiretest.OwnID(1))
	if s.InGame() || s.State() != StateDisconnected {
		t.Fatalf("offline replay must not change the connection state, got %s", s.State())
	}
}

func TestEmptyFrameIsReported(t *testing.T) {
	s, rec := newOfflineSession(t)
	if err := s.HandleFrame(nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	expectEvents(t, rec, "error:empty_message")
}
