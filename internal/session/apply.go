package session

import (
	"errors"
	"fmt"
	"math"

	"cellwire/client/internal/logging"
	"cellwire/client/internal/wire"
	"cellwire/client/internal/world"
)

// scaleBase is the total own size below which the camera stops zooming in.
const scaleBase = 64.0

// HandleFrame decodes one inbound frame and applies it to the world. It is
// what the receive loop calls for every message, and may be driven directly
// to replay captured traffic. Frames that fail to decode are counted, reported
// to the Observer and leave the world unchanged.
func (s *Session) HandleFrame(frame []byte) error {
	s.record(frame)
	if len(frame) == 0 {
		s.stats.dropped.Add(1)
		s.observer.TransportError(CategoryEmptyMessage, ErrEmptyMessage.Error())
		return ErrEmptyMessage
	}

	res, err := wire.Decode(frame)
	if err != nil {
		s.drop(res, err)
		return err
	}
	if res.Leftover > 0 {
		s.stats.leftover.Add(uint64(res.Leftover))
		s.log.Debug("frame has trailing bytes", logging.String("opcode", res.Opcode.String()), logging.Int("leftover", res.Leftover))
	}
	for _, anomaly := range res.Anomalies {
		s.stats.anomalies.Add(1)
		s.observer.TransportError(CategoryAnomaly, anomaly.String())
	}
	if res.Opcode.InGame() {
		s.promote()
	}
	if err := s.apply(res.Record); err != nil {
		s.stats.anomalies.Add(1)
		s.stats.dropped.Add(1)
		s.log.Warn("frame rejected", logging.String("opcode", res.Opcode.String()), logging.Error(err))
		s.observer.TransportError(CategoryAnomaly, err.Error())
		return err
	}
	s.stats.applied.Add(1)
	return nil
}

// record numbers an inbound frame, counts it and hands it to the tap.
func (s *Session) record(frame []byte) {
	seq := s.seq.Add(1)
	s.stats.received.Add(1)
	if s.tap == nil {
		return
	}
	if err := s.tap.AppendFrame(seq, frame); err != nil {
		s.log.Warn("capture frame", logging.Int64("seq", int64(seq)), logging.Error(err))
	}
}

func (s *Session) drop(res wire.Result, err error) {
	s.stats.dropped.Add(1)
	category := CategoryUnderflow
	switch {
	case errors.Is(err, wire.ErrUnknownOpcode):
		s.stats.unknown.Add(1)
		category = CategoryUnknownOpcode
	case errors.Is(err, wire.ErrUnderflow):
		s.stats.underflow.Add(1)
	}
	s.log.Warn("frame dropped", logging.String("opcode", res.Opcode.String()), logging.String("category", string(category)), logging.Error(err))
	s.observer.TransportError(category, err.Error())
}

func (s *Session) apply(rec wire.Record) error {
	switch r := rec.(type) {
	case wire.WorldUpdate:
		return s.applyWorldUpdate(r)
	case wire.OwnID:
		return s.applyOwnID(r.ID)
	case wire.WorldRect:
		return s.applyWorldRect(r)
	case wire.LeaderboardNames:
		if err := s.model.Update(func(tx *world.Tx) error { return tx.ReplaceLeaderboardNames(r.Entries) }); err != nil {
			return err
		}
		s.observer.LeaderboardNamesUpdated(append([]world.LeaderboardEntry(nil), r.Entries...))
	case wire.LeaderboardGroups:
		if err := s.model.Update(func(tx *world.Tx) error { return tx.ReplaceLeaderboardGroups(r.Angles) }); err != nil {
			return err
		}
		s.observer.LeaderboardGroupsUpdated(append([]float32(nil), r.Angles...))
	case wire.ExperienceInfo:
		s.observer.ExperienceInfoUpdated(r.Level, r.CurrentXP, r.NextXP)
	case wire.ClearCells:
		s.observer.ClearCells()
		return s.model.Update(func(tx *world.Tx) error {
			if err := tx.Reset(); err != nil {
				return err
			}
			s.recompute(tx)
			return nil
		})
	case wire.DebugLine:
		s.observer.DebugLine(r.X, r.Y)
	case wire.SpectateUpdate:
		s.aggMu.Lock()
		s.agg.Center = world.Point{X: float64(r.X), Y: float64(r.Y)}
		s.agg.Scale = float64(r.Scale)
		s.aggMu.Unlock()
		s.observer.SpectateUpdated(r.X, r.Y, r.Scale)
	default:
		return fmt.Errorf("session: no handler for %T", rec)
	}
	return nil
}

// eatOutcome is the notification plan for one eaten pair.
type eatOutcome struct {
	pair  wire.EatPair
	death *world.Entity
}

func (s *Session) applyWorldUpdate(upd wire.WorldUpdate) error {
	s.observer.WorldUpdateBegin()

	//1.- Replay the eaten pairs against a copy of the ownership set. The receive
	// loop is the only writer, so the plan still holds when the batch is applied
	// and death can be announced while the last cell is in the model.
	plan := make([]eatOutcome, len(upd.Eaten))
	s.model.View(func(snap *world.Snapshot) {
		owned := make(map[uint32]struct{}, snap.OwnedCount())
		for _, id := range snap.OwnedIDs() {
			owned[id] = struct{}{}
		}
		for i, pair := range upd.Eaten {
			plan[i].pair = pair
			if _, ok := owned[pair.Eaten]; !ok {
				continue
			}
			if len(owned) == 1 {
				last, ok := snap.Entity(pair.Eaten)
				if !ok {
					last = world.Entity{ID: pair.Eaten}
				}
				plan[i].death = &last
			}
			delete(owned, pair.Eaten)
		}
	})
	for _, outcome := range plan {
		s.observer.EntityEaten(outcome.pair.Eater, outcome.pair.Eaten)
		if outcome.death != nil {
			s.log.Info("player died", logging.Uint32("cell", outcome.death.ID))
			s.tapEvent("death", map[string]uint32{"cell": outcome.death.ID})
			s.observer.Death(*outcome.death)
		}
	}

	//2.- Apply the whole batch in one critical section, in wire order.
	var (
		eatenRemoved []uint32
		updated      []world.Entity
		removed      []uint32
	)
	err := s.model.Update(func(tx *world.Tx) error {
		for _, pair := range upd.Eaten {
			tx.Disown(pair.Eaten)
			if _, ok := tx.RemoveEntity(pair.Eaten); ok {
				eatenRemoved = append(eatenRemoved, pair.Eaten)
			}
		}
		for _, cell := range upd.Cells {
			e, _, err := tx.UpsertEntity(cell)
			if err != nil {
				return err
			}
			updated = append(updated, e)
		}
		for _, id := range upd.Removed {
			if _, ok := tx.RemoveEntity(id); ok {
				removed = append(removed, id)
			}
		}
		s.recompute(tx)
		return nil
	})

	//3.- Deliver the buffered notifications after the lock is released.
	for _, id := range eatenRemoved {
		s.observer.EntityRemoved(id)
	}
	for _, e := range updated {
		s.observer.EntityUpdated(e)
	}
	for _, id := range removed {
		s.observer.EntityRemoved(id)
	}
	s.observer.WorldUpdateEnd()
	return err
}

func (s *Session) applyOwnID(id uint32) error {
	if id == 0 {
		return fmt.Errorf("own id: %w", world.ErrReservedID)
	}
	respawn := false
	s.model.View(func(snap *world.Snapshot) { respawn = snap.OwnedCount() == 0 })
	if respawn {
		s.log.Info("respawned", logging.Uint32("cell", id))
		s.observer.Respawn()
	}
	err := s.model.Update(func(tx *world.Tx) error {
		if respawn {
			if err := tx.ClearOwnership(); err != nil {
				return err
			}
		}
		if err := tx.Own(id); err != nil {
			return err
		}
		s.recompute(tx)
		return nil
	})
	if err != nil {
		return err
	}
	s.observer.OwnIDAssigned(id)
	return nil
}

func (s *Session) applyWorldRect(r wire.WorldRect) error {
	v := world.Viewport{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom}
	err := s.model.Update(func(tx *world.Tx) error {
		if err := tx.ReplaceViewport(v); err != nil {
			return err
		}
		s.aggMu.Lock()
		s.agg.Center = v.Center()
		s.aggMu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	s.observer.WorldRectSet(v)
	if r.Version != nil {
		s.observer.ServerVersion(r.Version.Number, r.Version.Text)
	}
	return nil
}

// recompute refreshes the aggregates from the owned cells. It runs inside
// Model.Update so readers never see aggregates ahead of the world.
func (s *Session) recompute(tx *world.Tx) {
	owned := tx.OwnedEntities()

	s.aggMu.Lock()
	defer s.aggMu.Unlock()
	agg := s.agg
	agg.TotalSize, agg.TotalMass = 0, 0
	for _, e := range owned {
		agg.TotalSize += float64(e.Size)
		agg.TotalMass += e.Mass()
	}
	agg.Scale = 1
	if agg.TotalSize > 0 {
		agg.Scale = math.Pow(math.Min(1, scaleBase/agg.TotalSize), 0.4)
	}
	// With no owned cells the previous centre is kept.
	if len(owned) > 0 {
		left, right := owned[0].X, owned[0].X
		top, bottom := owned[0].Y, owned[0].Y
		for _, e := range owned[1:] {
			left, right = min(left, e.X), max(right, e.X)
			top, bottom = min(top, e.Y), max(bottom, e.Y)
		}
		agg.Center = world.Point{
			X: (float64(left) + float64(right)) / 2,
			Y: (float64(top) + float64(bottom)) / 2,
		}
	}
	s.agg = agg
}
