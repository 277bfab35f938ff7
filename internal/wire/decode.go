package wire

import (
	"fmt"
	"strings"
)

// skinMarker prefixes every skin reference the client accepts.
const skinMarker = ":"

// Result is the outcome of decoding a single frame.
type Result struct {
	Opcode Opcode
	Record Record
	// Leftover counts trailing bytes no field claimed. Some server builds append
	// undocumented fields, so it is reported rather than rejected.
	Leftover  int
	Anomalies []Anomaly
}

type decoderFunc func(c *Cursor, res *Result) (Record, error)

var decoders = map[Opcode]decoderFunc{
	OpWorldUpdate:       decodeWorldUpdate,
	OpSpectateUpdate:    decodeSpectateUpdate,
	OpClearCells:        decodeClearCells,
	OpDebugLine:         decodeDebugLine,
	OpOwnID:             decodeOwnID,
	OpLeaderboardNames:  decodeLeaderboardNames,
	OpLeaderboardGroups: decodeLeaderboardGroups,
	OpWorldRect:         decodeWorldRect,
	OpExperienceInfo:    decodeExperienceInfo,
}

// Decode parses one complete frame. On failure the returned Result still names
// the opcode when it could be read.
func Decode(frame []byte) (Result, error) {
	c := NewCursor(frame)
	op, err := c.Uint8()
	if err != nil {
		return Result{}, err
	}
	res := Result{Opcode: Opcode(op)}
	decode, ok := decoders[res.Opcode]
	if !ok {
		return res, &UnknownOpcodeError{Opcode: op}
	}
	rec, err := decode(c, &res)
	if err != nil {
		return res, fmt.Errorf("decode %s: %w", res.Opcode, err)
	}
	res.Record = rec
	res.Leftover = c.Remaining()
	return res, nil
}

func decodeWorldUpdate(c *Cursor, res *Result) (Record, error) {
	var upd WorldUpdate

	//1.- Eaten pairs come first so later stages may re-reference cleared ids.
	pairs, err := c.Uint16()
	if err != nil {
		return nil, err
	}
	upd.Eaten = make([]EatPair, 0, pairs)
	for i := 0; i < int(pairs); i++ {
		eater, err := c.Uint32()
		if err != nil {
			return nil, err
		}
		eaten, err := c.Uint32()
		if err != nil {
			return nil, err
		}
		upd.Eaten = append(upd.Eaten, EatPair{Eater: eater, Eaten: eaten})
	}

	//2.- Cell records run until the zero id terminator.
	for {
		id, err := c.Uint32()
		if err != nil {
			return nil, err
		}
		if id == 0 {
			break
		}
		cell, err := decodeCell(c, id, res)
		if err != nil {
			return nil, err
		}
		upd.Cells = append(upd.Cells, cell)
	}

	//3.- Removals are cells that vanished without being eaten, e.g. merges.
	removed, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	if int64(removed)*4 > int64(c.Remaining()) {
		return nil, &UnderflowError{Want: int(removed) * 4, Have: c.Remaining()}
	}
	upd.Removed = make([]uint32, 0, removed)
	for i := uint32(0); i < removed; i++ {
		id, err := c.Uint32()
		if err != nil {
			return nil, err
		}
		upd.Removed = append(upd.Removed, id)
	}
	return upd, nil
}

func decodeCell(c *Cursor, id uint32, res *Result) (CellUpdate, error) {
	cell := CellUpdate{ID: id}
	var err error
	if cell.X, err = c.Int32(); err != nil {
		return cell, err
	}
	if cell.Y, err = c.Int32(); err != nil {
		return cell, err
	}
	if cell.Size, err = c.Int16(); err != nil {
		return cell, err
	}
	if cell.R, err = c.Uint8(); err != nil {
		return cell, err
	}
	if cell.G, err = c.Uint8(); err != nil {
		return cell, err
	}
	if cell.B, err = c.Uint8(); err != nil {
		return cell, err
	}
	if cell.Flags, err = c.Uint8(); err != nil {
		return cell, err
	}
	cell.Virus = cell.Flags&FlagVirus != 0
	cell.Agitated = cell.Flags&FlagAgitated != 0

	if cell.Flags&FlagPadding != 0 {
		n, err := c.Uint32()
		if err != nil {
			return cell, err
		}
		if int64(n) > int64(c.Remaining()) {
			return cell, &UnderflowError{Want: int(n), Have: c.Remaining()}
		}
		if err := c.Skip(int(n)); err != nil {
			return cell, err
		}
	}
	if cell.Flags&FlagSkin != 0 {
		skin, err := c.String8()
		if err != nil {
			return cell, err
		}
		if strings.HasPrefix(skin, skinMarker) {
			cell.Skin = skin
		} else {
			res.Anomalies = append(res.Anomalies, Anomaly{Kind: AnomalyInvalidSkin, CellID: id, Detail: fmt.Sprintf("%q", skin)})
		}
	}
	if cell.Name, err = c.String16(); err != nil {
		return cell, err
	}
	return cell, nil
}

func decodeOwnID(c *Cursor, _ *Result) (Record, error) {
	id, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	return OwnID{ID: id}, nil
}

func decodeWorldRect(c *Cursor, _ *Result) (Record, error) {
	var (
		rect WorldRect
		err  error
	)
	if rect.Left, err = c.Float64(); err != nil {
		return nil, err
	}
	if rect.Top, err = c.Float64(); err != nil {
		return nil, err
	}
	if rect.Right, err = c.Float64(); err != nil {
		return nil, err
	}
	if rect.Bottom, err = c.Float64(); err != nil {
		return nil, err
	}
	// The banner is present only when bytes remain; there is no flag for it.
	if c.Remaining() == 0 {
		return rect, nil
	}
	number, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	text, err := c.String16()
	if err != nil {
		return nil, err
	}
	rect.Version = &ServerVersion{Number: number, Text: text}
	return rect, nil
}

func decodeLeaderboardNames(c *Cursor, _ *Result) (Record, error) {
	n, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	// Each entry needs at least an id and a terminator.
	if int64(n)*6 > int64(c.Remaining()) {
		return nil, &UnderflowError{Want: int(n) * 6, Have: c.Remaining()}
	}
	board := LeaderboardNames{Entries: make([]LeaderboardEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		id, err := c.Uint32()
		if err != nil {
			return nil, err
		}
		name, err := c.String16()
		if err != nil {
			return nil, err
		}
		board.Entries = append(board.Entries, LeaderboardEntry{ID: id, Name: name})
	}
	return board, nil
}

func decodeLeaderboardGroups(c *Cursor, _ *Result) (Record, error) {
	n, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	if int64(n)*4 > int64(c.Remaining()) {
		return nil, &UnderflowError{Want: int(n) * 4, Have: c.Remaining()}
	}
	board := LeaderboardGroups{Angles: make([]float32, 0, n)}
	for i := uint32(0); i < n; i++ {
		angle, err := c.Float32()
		if err != nil {
			return nil, err
		}
		board.Angles = append(board.Angles, angle)
	}
	return board, nil
}

func decodeExperienceInfo(c *Cursor, _ *Result) (Record, error) {
	var (
		info ExperienceInfo
		err  error
	)
	if info.Level, err = c.Uint32(); err != nil {
		return nil, err
	}
	if info.CurrentXP, err = c.Uint32(); err != nil {
		return nil, err
	}
	if info.NextXP, err = c.Uint32(); err != nil {
		return nil, err
	}
	return info, nil
}

func decodeClearCells(*Cursor, *Result) (Record, error) {
	return ClearCells{}, nil
}

func decodeDebugLine(c *Cursor, _ *Result) (Record, error) {
	x, err := c.Int16()
	if err != nil {
		return nil, err
	}
	y, err := c.Int16()
	if err != nil {
		return nil, err
	}
	return DebugLine{X: x, Y: y}, nil
}

func decodeSpectateUpdate(c *Cursor, _ *Result) (Record, error) {
	var (
		upd SpectateUpdate
		err error
	)
	if upd.X, err = c.Float32(); err != nil {
		return nil, err
	}
	if upd.Y, err = c.Float32(); err != nil {
		return nil, err
	}
	if upd.Scale, err = c.Float32(); err != nil {
		return nil, err
	}
	return upd, nil
}
