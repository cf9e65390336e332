// Package grid models the mirror array: tile addressing, motor axis
// assignments, and the geometry inferred from a calibration run (the
// blueprint and per-tile summaries).
package grid

import "fmt"

// Size is the shape of the mirror array.
type Size struct {
	Rows int `yaml:"rows" json:"rows"`
	Cols int `yaml:"cols" json:"cols"`
}

// Tiles returns the total number of grid cells.
func (s Size) Tiles() int {
	return s.Rows * s.Cols
}

// Key returns the dense index for a cell.
func (s Size) Key(row, col int) TileKey {
	return TileKey(row*s.Cols + col)
}

// Contains reports whether the address is inside the grid.
func (s Size) Contains(row, col int) bool {
	return row >= 0 && row < s.Rows && col >= 0 && col < s.Cols
}

// TileKey is a dense tile index (row*cols + col), stable for the
// lifetime of a grid configuration.
type TileKey int

// Address resolves the key back to a row/col address.
func (k TileKey) Address(s Size) TileAddress {
	return TileAddress{
		Row: int(k) / s.Cols,
		Col: int(k) % s.Cols,
		Key: k,
	}
}

// TileAddress identifies one grid cell.
type TileAddress struct {
	Row int     `json:"row"`
	Col int     `json:"col"`
	Key TileKey `json:"key"`
}

// NewAddress builds the address for a cell.
func NewAddress(s Size, row, col int) TileAddress {
	return TileAddress{Row: row, Col: col, Key: s.Key(row, col)}
}

func (a TileAddress) String() string {
	return fmt.Sprintf("r%dc%d", a.Row, a.Col)
}

// MotorRef points at one physical motor axis.
type MotorRef struct {
	Controller string `yaml:"controller" json:"controller"`
	Axis       int    `yaml:"axis" json:"axis"`
}

// AxisAssignment maps a tile's logical X and Y axes onto physical
// motors. Either may be nil when the tile has no motor wired for that
// axis.
type AxisAssignment struct {
	X *MotorRef `yaml:"x,omitempty" json:"x,omitempty"`
	Y *MotorRef `yaml:"y,omitempty" json:"y,omitempty"`
}

// Calibratable reports whether both axes are assigned; only such
// tiles can be calibrated or targeted.
func (a AxisAssignment) Calibratable() bool {
	return a.X != nil && a.Y != nil
}

// Motor returns the assignment for one logical axis: 0 = X, 1 = Y.
func (a AxisAssignment) Motor(axis int) *MotorRef {
	if axis == 0 {
		return a.X
	}
	return a.Y
}

// Controllers returns the distinct controller ids referenced by the
// assignments, in first-seen order.
func Controllers(assignments []AxisAssignment) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, a := range assignments {
		for _, ref := range []*MotorRef{a.X, a.Y} {
			if ref != nil && !seen[ref.Controller] {
				seen[ref.Controller] = true
				ids = append(ids, ref.Controller)
			}
		}
	}
	return ids
}
