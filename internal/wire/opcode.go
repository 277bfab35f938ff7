package wire

import "fmt"

// Opcode is the leading byte of every frame.
type Opcode uint8

// Server to client opcodes.
const (
	OpWorldUpdate       Opcode = 16
	OpSpectateUpdate    Opcode = 17
	OpClearCells        Opcode = 20
	OpDebugLine         Opcode = 21
	OpOwnID             Opcode = 32
	OpLeaderboardNames  Opcode = 49
	OpLeaderboardGroups Opcode = 50
	OpWorldRect         Opcode = 64
	OpExperienceInfo    Opcode = 81
)

// Client to server opcodes.
const (
	CmdRespawn        Opcode = 0
	CmdSpectate       Opcode = 1
	CmdTarget         Opcode = 16
	CmdSplit          Opcode = 17
	CmdSpectateToggle Opcode = 18
	CmdExplode        Opcode = 20
	CmdEject          Opcode = 21
	CmdToken          Opcode = 80
	CmdFacebook       Opcode = 81
	CmdHandshake1     Opcode = 254
	CmdHandshake2     Opcode = 255
)

var opcodeNames = map[Opcode]string{
	OpWorldUpdate:       "world_update",
	OpSpectateUpdate:    "spectate_update",
	OpClearCells:        "clear_cells",
	OpDebugLine:         "debug_line",
	OpOwnID:             "own_id",
	OpLeaderboardNames:  "leaderboard_names",
	OpLeaderboardGroups: "leaderboard_groups",
	OpWorldRect:         "world_rect",
	OpExperienceInfo:    "experience_info",
}

// String names server opcodes; client opcodes share numbers and are not named.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", uint8(o))
}

// Known reports whether a decoder is registered for the opcode.
func (o Opcode) Known() bool {
	_, ok := decoders[o]
	return ok
}

// InGame reports whether receiving the opcode means the client is in a running game.
func (o Opcode) InGame() bool {
	switch o {
	case OpWorldUpdate, OpSpectateUpdate, OpWorldRect, OpLeaderboardNames, OpLeaderboardGroups, OpOwnID:
		return true
	default:
		return false
	}
}
