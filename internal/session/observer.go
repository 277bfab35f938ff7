package session

import (
	"cellwire/client/internal/logging"
	"cellwire/client/internal/world"
)

// ErrorCategory classifies the failures reported through TransportError.
type ErrorCategory string

const (
	CategoryUnderflow     ErrorCategory = "underflow"
	CategoryUnknownOpcode ErrorCategory = "unknown_opcode"
	CategoryAnomaly       ErrorCategory = "anomaly"
	CategoryTransport     ErrorCategory = "transport"
	CategoryEmptyMessage  ErrorCategory = "empty_message"
)

// Observer receives one call per semantic event, synchronously from the
// receive loop and never while the world lock is held. Implementations must
// not block for long; they may read the world model freely. Every value is a
// copy.
type Observer interface {
	WorldUpdateBegin()
	WorldUpdateEnd()
	EntityUpdated(e world.Entity)
	EntityRemoved(id uint32)
	EntityEaten(eater, eaten uint32)
	// Death fires while the last owned cell is still present in the model.
	Death(last world.Entity)
	Respawn()
	OwnIDAssigned(id uint32)
	WorldRectSet(v world.Viewport)
	ServerVersion(number uint32, text string)
	LeaderboardNamesUpdated(entries []world.LeaderboardEntry)
	LeaderboardGroupsUpdated(angles []float32)
	ExperienceInfoUpdated(level, current, next uint32)
	ClearCells()
	DebugLine(x, y int16)
	SpectateUpdated(x, y, scale float32)
	TransportError(category ErrorCategory, message string)
	ConnectionClosed()
}

// NopObserver ignores every event. Embed it to implement only the calls you need.
type NopObserver struct{}

func (NopObserver) WorldUpdateBegin()                                {}
func (NopObserver) WorldUpdateEnd()                                  {}
func (NopObserver) EntityUpdated(world.Entity)                       {}
func (NopObserver) EntityRemoved(uint32)                             {}
func (NopObserver) EntityEaten(uint32, uint32)                       {}
func (NopObserver) Death(world.Entity)                               {}
func (NopObserver) Respawn()                                         {}
func (NopObserver) OwnIDAssigned(uint32)                             {}
func (NopObserver) WorldRectSet(world.Viewport)                      {}
func (NopObserver) ServerVersion(uint32, string)                     {}
func (NopObserver) LeaderboardNamesUpdated([]world.LeaderboardEntry) {}
func (NopObserver) LeaderboardGroupsUpdated([]float32)               {}
func (NopObserver) ExperienceInfoUpdated(uint32, uint32, uint32)     {}
func (NopObserver) ClearCells()                                      {}
func (NopObserver) DebugLine(int16, int16)                           {}
func (NopObserver) SpectateUpdated(float32, float32, float32)        {}
func (NopObserver) TransportError(ErrorCategory, string)             {}
func (NopObserver) ConnectionClosed()                                {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) WorldUpdateBegin() {
	for _, obs := range o {
		obs.WorldUpdateBegin()
	}
}

func (o Observers) WorldUpdateEnd() {
	for _, obs := range o {
		obs.WorldUpdateEnd()
	}
}

func (o Observers) EntityUpdated(e world.Entity) {
	for _, obs := range o {
		obs.EntityUpdated(e)
	}
}

func (o Observers) EntityRemoved(id uint32) {
	for _, obs := range o {
		obs.EntityRemoved(id)
	}
}

func (o Observers) EntityEaten(eater, eaten uint32) {
	for _, obs := range o {
		obs.EntityEaten(eater, eaten)
	}
}

func (o Observers) Death(last world.Entity) {
	for _, obs := range o {
		obs.Death(last)
	}
}

func (o Observers) Respawn() {
	for _, obs := range o {
		obs.Respawn()
	}
}

func (o Observers) OwnIDAssigned(id uint32) {
	for _, obs := range o {
		obs.OwnIDAssigned(id)
	}
}

func (o Observers) WorldRectSet(v world.Viewport) {
	for _, obs := range o {
		obs.WorldRectSet(v)
	}
}

func (o Observers) ServerVersion(number uint32, text string) {
	for _, obs := range o {
		obs.ServerVersion(number, text)
	}
}

// LeaderboardNamesUpdated hands each member its own copy.
func (o Observers) LeaderboardNamesUpdated(entries []world.LeaderboardEntry) {
	for _, obs := range o {
		obs.LeaderboardNamesUpdated(append([]world.LeaderboardEntry(nil), entries...))
	}
}

func (o Observers) LeaderboardGroupsUpdated(angles []float32) {
	for _, obs := range o {
		obs.LeaderboardGroupsUpdated(append([]float32(nil), angles...))
	}
}

func (o Observers) ExperienceInfoUpdated(level, current, next uint32) {
	for _, obs := range o {
		obs.ExperienceInfoUpdated(level, current, next)
	}
}

func (o Observers) ClearCells() {
	for _, obs := range o {
		obs.ClearCells()
	}
}

func (o Observers) DebugLine(x, y int16) {
	for _, obs := range o {
		obs.DebugLine(x, y)
	}
}

func (o Observers) SpectateUpdated(x, y, scale float32) {
	for _, obs := range o {
		obs.SpectateUpdated(x, y, scale)
	}
}

func (o Observers) TransportError(category ErrorCategory, message string) {
	for _, obs := range o {
		obs.TransportError(category, message)
	}
}

func (o Observers) ConnectionClosed() {
	for _, obs := range o {
		obs.ConnectionClosed()
	}
}

// LogObserver writes every event to a structured logger. Per-entity events log
// at debug level; lifecycle and error events at info and warn.
type LogObserver struct {
	log *logging.Logger
}

// NewLogObserver wraps logger, falling back to the global logger when nil.
func NewLogObserver(logger *logging.Logger) *LogObserver {
	if logger == nil {
		logger = logging.L()
	}
	return &LogObserver{log: logger.With(logging.String("component", "observer"))}
}

func (l *LogObserver) WorldUpdateBegin() { l.log.Debug("world update begin") }
func (l *LogObserver) WorldUpdateEnd()   { l.log.Debug("world update end") }

func (l *LogObserver) EntityUpdated(e world.Entity) {
	l.log.Debug("entity updated",
		logging.Uint32("id", e.ID),
		logging.String("kind", e.Kind().String()),
		logging.Int("size", int(e.Size)),
		logging.String("name", e.Name),
	)
}

func (l *LogObserver) EntityRemoved(id uint32) {
	l.log.Debug("entity removed", logging.Uint32("id", id))
}

func (l *LogObserver) EntityEaten(eater, eaten uint32) {
	l.log.Debug("entity eaten", logging.Uint32("eater", eater), logging.Uint32("eaten", eaten))
}

func (l *LogObserver) Death(last world.Entity) {
	l.log.Info("player died", logging.Uint32("last_cell", last.ID), logging.Float64("mass", last.Mass()))
}

func (l *LogObserver) Respawn() { l.log.Info("player respawned") }

func (l *LogObserver) OwnIDAssigned(id uint32) {
	l.log.Info("own cell assigned", logging.Uint32("id", id))
}

func (l *LogObserver) WorldRectSet(v world.Viewport) {
	l.log.Info("world rect set",
		logging.Float64("left", v.Left),
		logging.Float64("top", v.Top),
		logging.Float64("right", v.Right),
		logging.Float64("bottom", v.Bottom),
	)
}

func (l *LogObserver) ServerVersion(number uint32, text string) {
	l.log.Info("server version", logging.Uint32("number", number), logging.String("text", text))
}

func (l *LogObserver) LeaderboardNamesUpdated(entries []world.LeaderboardEntry) {
	fields := []logging.Field{logging.Int("entries", len(entries))}
	if len(entries) > 0 {
		fields = append(fields, logging.String("leader", entries[0].Name))
	}
	l.log.Debug("leaderboard names", fields...)
}

func (l *LogObserver) LeaderboardGroupsUpdated(angles []float32) {
	l.log.Debug("leaderboard groups", logging.Int("teams", len(angles)))
}

func (l *LogObserver) ExperienceInfoUpdated(level, current, next uint32) {
	l.log.Info("experience",
		logging.Uint32("level", level),
		logging.Uint32("current", current),
		logging.Uint32("next", next),
	)
}

func (l *LogObserver) ClearCells() { l.log.Info("cells cleared") }

func (l *LogObserver) DebugLine(x, y int16) {
	l.log.Debug("debug line", logging.Int("x", int(x)), logging.Int("y", int(y)))
}

func (l *LogObserver) SpectateUpdated(x, y, scale float32) {
	l.log.Debug("spectate update",
		logging.Float64("x", float64(x)),
		logging.Float64("y", float64(y)),
		logging.Float64("scale", float64(scale)),
	)
}

func (l *LogObserver) TransportError(category ErrorCategory, message string) {
	l.log.Warn("transport error", logging.String("category", string(category)), logging.String("detail", message))
}

func (l *LogObserver) ConnectionClosed() { l.log.Info("connection closed") }
