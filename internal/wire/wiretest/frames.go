// Package wiretest encodes server to client frames so tests can drive the
// decoder and the session without a live game server.
package wiretest

import "cellwire/client/internal/wire"

// Cell describes a cell record. Padding is emitted when non-nil and Skin when non-empty.
type Cell struct {
	ID       uint32
	X, Y     int32
	Size     int16
	R, G, B  uint8
	Virus    bool
	Agitated bool
	Padding  []byte
	Skin     string
	Name     string
}

// WorldUpdate encodes a world update frame.
func WorldUpdate(eaten []wire.EatPair, cells []Cell, removed []uint32) []byte {
	b := wire.NewBuilder(wire.OpWorldUpdate)
	b.U16(uint16(len(eaten)))
	for _, pair := range eaten {
		b.U32(pair.Eater).U32(pair.Eaten)
	}
	for _, cell := range cells {
		appendCell(b, cell)
	}
	b.U32(0)
	b.U32(uint32(len(removed)))
	for _, id := range removed {
		b.U32(id)
	}
	return b.Bytes()
}

func appendCell(b *wire.Builder, cell Cell) {
	var flags uint8
	if cell.Virus {
		flags |= wire.FlagVirus
	}
	if cell.Padding != nil {
		flags |= wire.FlagPadding
	}
	if cell.Skin != "" {
		flags |= wire.FlagSkin
	}
	if cell.Agitated {
		flags |= wire.FlagAgitated
	}
	b.U32(cell.ID).I32(cell.X).I32(cell.Y).I16(cell.Size)
	b.U8(cell.R).U8(cell.G).U8(cell.B).U8(flags)
	if cell.Padding != nil {
		b.U32(uint32(len(cell.Padding))).Raw(cell.Padding)
	}
	if cell.Skin != "" {
		b.String8(cell.Skin)
	}
	b.String16(cell.Name)
}

func OwnID(id uint32) []byte {
	return wire.NewBuilder(wire.OpOwnID).U32(id).Bytes()
}

// WorldRect encodes a world rect, with the version banner when version is non-nil.
func WorldRect(left, top, right, bottom float64, version *wire.ServerVersion) []byte {
	b := wire.NewBuilder(wire.OpWorldRect).F64(left).F64(top).F64(right).F64(bottom)
	if version != nil {
		b.U32(version.Number).String16(version.Text)
	}
	return b.Bytes()
}

func LeaderboardNames(entries ...wire.LeaderboardEntry) []byte {
	b := wire.NewBuilder(wire.OpLeaderboardNames).U32(uint32(len(entries)))
	for _, e := range entries {
		b.U32(e.ID).String16(e.Name)
	}
	return b.Bytes()
}

func LeaderboardGroups(angles ...float32) []byte {
	b := wire.NewBuilder(wire.OpLeaderboardGroups).U32(uint32(len(angles)))
	for _, a := range angles {
		b.F32(a)
	}
	return b.Bytes()
}

func ExperienceInfo(level, current, next uint32) []byte {
	return wire.NewBuilder(wire.OpExperienceInfo).U32(level).U32(current).U32(next).Bytes()
}

func ClearCells() []byte {
	return wire.NewBuilder(wire.OpClearCells).Bytes()
}

func DebugLine(x, y int16) []byte {
	return wire.NewBuilder(wire.OpDebugLine).I16(x).I16(y).Bytes()
}

func SpectateUpdate(x, y, scale float32) []byte {
	return wire.NewBuilder(wire.OpSpectateUpdate).F32(x).F32(y).F32(scale).Bytes()
}
