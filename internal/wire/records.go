package wire

// Record is one decoded server message. The set of implementations is closed;
// switch on the concrete type to handle it.
type Record interface {
	Opcode() Opcode
	record()
}

// Cell update flag bits.
const (
	FlagVirus    uint8 = 1 << 0
	FlagPadding  uint8 = 1 << 1
	FlagSkin     uint8 = 1 << 2
	FlagAgitated uint8 = 1 << 4
)

// EatPair records that Eater consumed Eaten during the last tick.
type EatPair struct {
	Eater uint32
	Eaten uint32
}

// CellUpdate is the full state of one cell as carried by a world update.
type CellUpdate struct {
	ID       uint32
	X        int32
	Y        int32
	Size     int16
	R, G, B  uint8
	Flags    uint8
	Skin     string
	Name     string
	Virus    bool
	Agitated bool
}

// WorldUpdate carries, in wire order, the eaten pairs, the created or updated
// cells and the cells removed without replacement.
type WorldUpdate struct {
	Eaten   []EatPair
	Cells   []CellUpdate
	Removed []uint32
}

// OwnID assigns a cell to the local player, either on spawn or after a split.
type OwnID struct {
	ID uint32
}

// ServerVersion is the optional banner trailing a world rect.
type ServerVersion struct {
	Number uint32
	Text   string
}

// WorldRect is the world bounding box.
type WorldRect struct {
	Left, Top, Right, Bottom float64
	Version                  *ServerVersion
}

// LeaderboardEntry is one ranked player.
type LeaderboardEntry struct {
	ID   uint32
	Name string
}

type LeaderboardNames struct {
	Entries []LeaderboardEntry
}

// LeaderboardGroups is the team mode leaderboard, one angle per team.
type LeaderboardGroups struct {
	Angles []float32
}

type ExperienceInfo struct {
	Level     uint32
	CurrentXP uint32
	NextXP    uint32
}

// ClearCells asks the client to drop every known cell.
type ClearCells struct{}

type DebugLine struct {
	X, Y int16
}

// SpectateUpdate moves the spectator camera.
type SpectateUpdate struct {
	X, Y, Scale float32
}

func (WorldUpdate) Opcode() Opcode       { return OpWorldUpdate }
func (OwnID) Opcode() Opcode             { return OpOwnID }
func (WorldRect) Opcode() Opcode         { return OpWorldRect }
func (LeaderboardNames) Opcode() Opcode  { return OpLeaderboardNames }
func (LeaderboardGroups) Opcode() Opcode { return OpLeaderboardGroups }
func (ExperienceInfo) Opcode() Opcode    { return OpExperienceInfo }
func (ClearCells) Opcode() Opcode        { return OpClearCells }
func (DebugLine) Opcode() Opcode         { return OpDebugLine }
func (SpectateUpdate) Opcode() Opcode    { return OpSpectateUpdate }

func (WorldUpdate) record()       {}
func (OwnID) record()             {}
func (WorldRect) record()         {}
func (LeaderboardNames) record()  {}
func (LeaderboardGroups) record() {}
func (ExperienceInfo) record()    {}
func (ClearCells) record()        {}
func (DebugLine) record()         {}
func (SpectateUpdate) record()    {}
