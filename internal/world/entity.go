package world

import "cellwire/client/internal/wire"

const (
	// foodMaxSize is the exclusive upper bound on the size of an unnamed food pellet.
	foodMaxSize      = 20
	ejectedSizeSmall = 37
	ejectedSizeLarge = 38
)

// Kind is the derived classification of an entity.
type Kind int

const (
	KindUnnamed Kind = iota
	KindFood
	KindEjectedMass
	KindVirus
	KindPlayer
)

func (k Kind) String() string {
	switch k {
	case KindFood:
		return "food"
	case KindEjectedMass:
		return "ejected_mass"
	case KindVirus:
		return "virus"
	case KindPlayer:
		return "player"
	default:
		return "unnamed"
	}
}

// Entity is a copy of one cell's last known state.
type Entity struct {
	ID       uint32
	X, Y     int32
	Size     int16
	Name     string
	Skin     string
	RGB      [3]uint8
	Color    [3]float64
	Virus    bool
	Agitated bool
}

// Mass is derived from size as size²/100.
func (e Entity) Mass() float64 {
	s := float64(e.Size)
	return s * s / 100
}

func (e Entity) IsFood() bool { return e.Name == "" && e.Size < foodMaxSize }

func (e Entity) IsEjectedMass() bool {
	return e.Name == "" && (e.Size == ejectedSizeSmall || e.Size == ejectedSizeLarge)
}

// IsPlayerCell reports whether the cell carries a name; a name overrides every
// size based classification.
func (e Entity) IsPlayerCell() bool { return e.Name != "" }

// Kind classifies the entity. Players win over the size rules, which win over
// the virus flag.
func (e Entity) Kind() Kind {
	switch {
	case e.IsPlayerCell():
		return KindPlayer
	case e.IsFood():
		return KindFood
	case e.IsEjectedMass():
		return KindEjectedMass
	case e.Virus:
		return KindVirus
	default:
		return KindUnnamed
	}
}

// SamePlayer compares name and colour, the only ownership hint the server gives
// about foreign cells.
func (e Entity) SamePlayer(other Entity) bool {
	return e.Name == other.Name && e.RGB == other.RGB
}

// Less orders by mass, then id.
func (e Entity) Less(other Entity) bool {
	if e.Mass() != other.Mass() {
		return e.Mass() < other.Mass()
	}
	return e.ID < other.ID
}

// apply overwrites every field from the update. A previously learned name is
// kept because the server omits names on most refreshes.
func (e *Entity) apply(c wire.CellUpdate) {
	e.ID = c.ID
	e.X, e.Y = c.X, c.Y
	e.Size = c.Size
	if e.Name == "" {
		e.Name = c.Name
	}
	e.Skin = c.Skin
	e.RGB = [3]uint8{c.R, c.G, c.B}
	e.Color = [3]float64{float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255}
	e.Virus = c.Virus
	e.Agitated = c.Agitated
}
