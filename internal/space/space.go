// Package space converts between the isotropic pattern space used to
// author target patterns and the camera-centered space measurements
// are reported in.
//
// Pattern space is a square [-1,1]^2, independent of how the camera is
// mounted. Centered space is camera-referenced: anisotropic because of
// the sensor aspect ratio, and rotated when the mirror array is
// mounted at a quarter turn relative to the camera.
package space

// Point is a 2D coordinate in either space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is an axis-aligned rectangle.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Contains reports whether p lies inside the rectangle (inclusive).
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// View describes how the camera sees the array.
type View struct {
	Aspect   float64 `json:"aspect"`   // camera width / height; <= 0 treated as 1
	Rotation int     `json:"rotation"` // clockwise degrees, one of 0/90/180/270
}

func (v View) aspect() float64 {
	if v.Aspect <= 0 {
		return 1
	}
	return v.Aspect
}

// quarterTurns normalizes the rotation to 0..3 quarter turns.
// Only exact multiples of 90 are supported; anything else behaves as 0.
func (v View) quarterTurns() int {
	r := ((v.Rotation % 360) + 360) % 360
	if r%90 != 0 {
		return 0
	}
	return r / 90
}

// rotateCW rotates p clockwise by the given number of quarter turns.
// Exact branch arithmetic, no trigonometry, so round trips are exact.
func rotateCW(p Point, quarterTurns int) Point {
	switch quarterTurns {
	case 1:
		return Point{X: p.Y, Y: -p.X}
	case 2:
		return Point{X: -p.X, Y: -p.Y}
	case 3:
		return Point{X: -p.Y, Y: p.X}
	default:
		return p
	}
}

// rotateCCW is the inverse of rotateCW.
func rotateCCW(p Point, quarterTurns int) Point {
	return rotateCW(p, (4-quarterTurns)%4)
}

// PatternToCentered maps a pattern-space point into centered space:
// rotate clockwise by the view rotation, then scale Y by the aspect
// ratio.
func PatternToCentered(p Point, v View) Point {
	r := rotateCW(p, v.quarterTurns())
	r.Y *= v.aspect()
	return r
}

// CenteredToPattern is the exact algebraic inverse of
// PatternToCentered: unscale Y, then rotate counter-clockwise.
func CenteredToPattern(p Point, v View) Point {
	p.Y /= v.aspect()
	return rotateCCW(p, v.quarterTurns())
}

// BoundsToPattern maps a centered-space rectangle into pattern space.
// A quarter-turn rotation turns an axis-aligned box into a rotated
// one, so all four corners are mapped and the axis-aligned bounding
// box of the results is returned.
func BoundsToPattern(b Bounds, v View) Bounds {
	corners := [4]Point{
		{X: b.MinX, Y: b.MinY},
		{X: b.MaxX, Y: b.MinY},
		{X: b.MinX, Y: b.MaxY},
		{X: b.MaxX, Y: b.MaxY},
	}

	first := CenteredToPattern(corners[0], v)
	out := Bounds{MinX: first.X, MinY: first.Y, MaxX: first.X, MaxY: first.Y}
	for _, c := range corners[1:] {
		p := CenteredToPattern(c, v)
		if p.X < out.MinX {
			out.MinX = p.X
		}
		if p.X > out.MaxX {
			out.MaxX = p.X
		}
		if p.Y < out.MinY {
			out.MinY = p.Y
		}
		if p.Y > out.MaxY {
			out.MaxY = p.Y
		}
	}
	return out
}
