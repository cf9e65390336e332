// Package playback turns a calibration profile and a target pattern
// into motor step targets. Planning is a pure function: it never
// throws, holds no state, and reports every failure mode as a typed
// value inside the plan so callers can render partial success.
package playback

import (
	"fmt"
	"math"
	"sort"

	"github.com/cjeanneret/HelioGo/internal/grid"
	"github.com/cjeanneret/HelioGo/internal/pattern"
	"github.com/cjeanneret/HelioGo/internal/profile"
	"github.com/cjeanneret/HelioGo/internal/space"
)

// ErrorCode identifies a planning failure mode.
type ErrorCode string

const (
	CodeMissingPattern         ErrorCode = "missing_pattern"
	CodeMissingProfile         ErrorCode = "missing_profile"
	CodeMissingBlueprint       ErrorCode = "missing_blueprint"
	CodePatternExceedsCapacity ErrorCode = "pattern_exceeds_capacity"
	CodeInsufficientCalibrated ErrorCode = "insufficient_calibrated_tiles"
	CodeNoValidTile            ErrorCode = "no_valid_tile"
	CodeTilesExhausted         ErrorCode = "tiles_exhausted"
	CodeTileNotCalibrated      ErrorCode = "tile_not_calibrated"
	CodeMissingMotor           ErrorCode = "missing_motor"
	CodeMissingAxisCalibration ErrorCode = "missing_axis_calibration"
	CodeTargetOutOfBounds      ErrorCode = "target_out_of_bounds"
	CodeStepsOutOfRange        ErrorCode = "steps_out_of_range"
)

// Error is a planning validation error. Planning never returns Go
// errors; these are data.
type Error struct {
	Code    ErrorCode `json:"code"`
	PointID string    `json:"point_id,omitempty"`
	Tile    string    `json:"tile,omitempty"` // tile address, e.g. "r1c2"
	Axis    string    `json:"axis,omitempty"` // "x" or "y"
	Message string    `json:"message,omitempty"`
}

// AxisTarget is one validated motor step target.
type AxisTarget struct {
	Tile       grid.TileAddress `json:"tile"`
	Axis       string           `json:"axis"` // "x" or "y"
	Motor      grid.MotorRef    `json:"motor"`
	Steps      int              `json:"steps"`
	Normalized float64          `json:"normalized"`
}

// CellPlan is the planning outcome for one grid cell.
type CellPlan struct {
	Addr    grid.TileAddress `json:"addr"`
	PointID string           `json:"point_id,omitempty"` // assigned point, empty if none
	TargetX *AxisTarget      `json:"target_x,omitempty"`
	TargetY *AxisTarget      `json:"target_y,omitempty"`
	Errors  []Error          `json:"errors,omitempty"`
}

// Plan is the playback plan for the whole grid.
type Plan struct {
	// Cells is dense, indexed by tile key (row*cols + col).
	Cells []CellPlan `json:"cells"`

	// Targets is the flat list of all valid axis targets, ready for
	// dispatch.
	Targets []AxisTarget `json:"targets"`

	// Errors consolidates every global and per-cell error.
	Errors []Error `json:"errors,omitempty"`
}

// candidate is an available tile: calibratable, calibrated, with its
// precomputed ideal position.
type candidate struct {
	key    grid.TileKey
	addr   grid.TileAddress
	ideal  space.Point
	bounds *space.Bounds
}

// plannedPoint is a pattern point transformed into centered space.
type plannedPoint struct {
	id         string
	target     space.Point
	candidates []grid.TileKey
}

// ComputePlan solves the constrained assignment of pattern points to
// tiles and derives bounded motor step targets for every assignment.
//
// Points are assigned most-constrained-first (fewest valid candidate
// tiles, ties by point id), each to its nearest still-free candidate
// tile (squared distance to the tile's ideal position, ties by tile
// key). The heuristic is deliberately greedy and deterministic, not a
// globally optimal matching; its exact output is part of the contract.
func ComputePlan(gridSize grid.Size, assignments []grid.AxisAssignment, prof *profile.Profile, pat *pattern.Pattern) *Plan {
	plan := &Plan{Cells: make([]CellPlan, gridSize.Tiles())}
	for i := range plan.Cells {
		plan.Cells[i].Addr = grid.TileKey(i).Address(gridSize)
	}

	// Validation gate: each missing input is a single early-exit error.
	if pat == nil || len(pat.Points) == 0 {
		plan.Errors = append(plan.Errors, Error{Code: CodeMissingPattern, Message: "no pattern points to plan"})
		return plan
	}
	if prof == nil {
		plan.Errors = append(plan.Errors, Error{Code: CodeMissingProfile, Message: "no calibration profile"})
		return plan
	}
	if prof.Blueprint == nil {
		plan.Errors = append(plan.Errors, Error{Code: CodeMissingBlueprint, Message: "profile has no grid blueprint"})
		return plan
	}

	// Capacity problems are reported but do not abort planning.
	if len(pat.Points) > gridSize.Tiles() {
		plan.Errors = append(plan.Errors, Error{
			Code:    CodePatternExceedsCapacity,
			Message: fmt.Sprintf("%d points for %d grid positions", len(pat.Points), gridSize.Tiles()),
		})
	}

	available := availableTiles(gridSize, assignments, prof)
	if len(pat.Points) > len(available) {
		plan.Errors = append(plan.Errors, Error{
			Code:    CodeInsufficientCalibrated,
			Message: fmt.Sprintf("%d points for %d calibrated tiles", len(pat.Points), len(available)),
		})
	}

	points := transformPoints(pat, prof.View, available)
	assignPoints(points, available, plan)

	for i := range plan.Cells {
		cell := &plan.Cells[i]
		if cell.PointID == "" {
			continue
		}
		computeCellTargets(cell, assignments[i], prof, pointTarget(points, cell.PointID))
	}

	// Consolidate: flatten valid targets and collect per-cell errors.
	for i := range plan.Cells {
		cell := &plan.Cells[i]
		if cell.TargetX != nil {
			plan.Targets = append(plan.Targets, *cell.TargetX)
		}
		if cell.TargetY != nil {
			plan.Targets = append(plan.Targets, *cell.TargetY)
		}
		plan.Errors = append(plan.Errors, cell.Errors...)
	}

	return plan
}

// availableTiles enumerates tiles that are both calibratable (motors
// on both axes) and calibrated (completed profile result with usable
// slopes), in tile key order.
func availableTiles(gridSize grid.Size, assignments []grid.AxisAssignment, prof *profile.Profile) []candidate {
	var out []candidate
	for key := 0; key < gridSize.Tiles() && key < len(assignments); key++ {
		if !assignments[key].Calibratable() {
			continue
		}
		result := prof.Tile(grid.TileKey(key))
		if !result.Calibrated() {
			continue
		}
		addr := grid.TileKey(key).Address(gridSize)
		out = append(out, candidate{
			key:    grid.TileKey(key),
			addr:   addr,
			ideal:  idealPosition(gridSize, addr),
			bounds: result.Summary.Bounds,
		})
	}
	return out
}

// idealPosition spreads tiles evenly across [-1,1] by row/col
// fraction. Single-row or single-column grids sit at zero on the
// degenerate axis.
func idealPosition(gridSize grid.Size, addr grid.TileAddress) space.Point {
	var p space.Point
	if gridSize.Cols > 1 {
		p.X = 2*float64(addr.Col)/float64(gridSize.Cols-1) - 1
	}
	if gridSize.Rows > 1 {
		p.Y = 2*float64(addr.Row)/float64(gridSize.Rows-1) - 1
	}
	return p
}

// transformPoints maps pattern points into centered space and
// computes each point's valid candidate tiles. A tile without bounds
// is universally valid.
func transformPoints(pat *pattern.Pattern, view space.View, available []candidate) []plannedPoint {
	points := make([]plannedPoint, len(pat.Points))
	for i, p := range pat.Points {
		target := space.PatternToCentered(space.Point{X: p.X, Y: p.Y}, view)
		pp := plannedPoint{id: p.ID, target: target}
		for _, c := range available {
			if c.bounds == nil || c.bounds.Contains(target) {
				pp.candidates = append(pp.candidates, c.key)
			}
		}
		points[i] = pp
	}
	return points
}

// assignPoints performs the greedy matching: most-constrained points
// first so a point valid for only one tile is not starved by a more
// flexible competitor.
func assignPoints(points []plannedPoint, available []candidate, plan *Plan) {
	byKey := make(map[grid.TileKey]candidate, len(available))
	for _, c := range available {
		byKey[c.key] = c
	}

	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := points[order[a]], points[order[b]]
		if len(pa.candidates) != len(pb.candidates) {
			return len(pa.candidates) < len(pb.candidates)
		}
		return pa.id < pb.id
	})

	taken := make(map[grid.TileKey]bool)
	for _, idx := range order {
		p := points[idx]

		if len(p.candidates) == 0 {
			plan.Errors = append(plan.Errors, Error{
				Code:    CodeNoValidTile,
				PointID: p.id,
				Message: "point lies outside every tile's calibrated bounds",
			})
			continue
		}

		best := grid.TileKey(-1)
		bestDist := math.Inf(1)
		for _, key := range p.candidates {
			if taken[key] {
				continue
			}
			c := byKey[key]
			dx := p.target.X - c.ideal.X
			dy := p.target.Y - c.ideal.Y
			dist := dx*dx + dy*dy
			// Strict < keeps the smaller tile key on ties because
			// candidates are enumerated in key order.
			if dist < bestDist {
				best = key
				bestDist = dist
			}
		}

		if best < 0 {
			plan.Errors = append(plan.Errors, Error{
				Code:    CodeTilesExhausted,
				PointID: p.id,
				Message: "all candidate tiles already assigned to other points",
			})
			continue
		}

		taken[best] = true
		plan.Cells[best].PointID = p.id
	}
}

func pointTarget(points []plannedPoint, id string) space.Point {
	for _, p := range points {
		if p.id == id {
			return p.target
		}
	}
	return space.Point{}
}

// computeCellTargets derives both axis targets for an assigned cell.
// Every failed check records a typed error in place of a target,
// never both.
func computeCellTargets(cell *CellPlan, assignment grid.AxisAssignment, prof *profile.Profile, target space.Point) {
	result := prof.Tile(cell.Addr.Key)
	if result == nil || result.Summary == nil {
		cell.Errors = append(cell.Errors, Error{
			Code:    CodeTileNotCalibrated,
			PointID: cell.PointID,
			Tile:    cell.Addr.String(),
			Message: "no calibration result for tile",
		})
		return
	}
	summary := result.Summary

	cell.TargetX = computeAxisTarget(cell, "x", assignment.X, summary.AxisX, summary, summary.Home.X, target.X)
	cell.TargetY = computeAxisTarget(cell, "y", assignment.Y, summary.AxisY, summary, summary.Home.Y, target.Y)
}

// computeAxisTarget validates and computes one axis step target:
// motor present, calibration usable, normalized target inside the
// tile's bounds, projected steps inside the valid range.
func computeAxisTarget(cell *CellPlan, axis string, motor *grid.MotorRef, cal *grid.AxisCalibration, summary *grid.TileSummary, homePos, target float64) *AxisTarget {
	fail := func(code ErrorCode, msg string) *AxisTarget {
		cell.Errors = append(cell.Errors, Error{
			Code:    code,
			PointID: cell.PointID,
			Tile:    cell.Addr.String(),
			Axis:    axis,
			Message: msg,
		})
		return nil
	}

	if motor == nil {
		return fail(CodeMissingMotor, "no motor assigned")
	}
	if !cal.Usable() {
		return fail(CodeMissingAxisCalibration, "no usable step slope")
	}
	if summary.Bounds != nil {
		inBounds := false
		switch axis {
		case "x":
			inBounds = target >= summary.Bounds.MinX && target <= summary.Bounds.MaxX
		default:
			inBounds = target >= summary.Bounds.MinY && target <= summary.Bounds.MaxY
		}
		if !inBounds {
			return fail(CodeTargetOutOfBounds, fmt.Sprintf("target %.4f outside calibrated bounds", target))
		}
	}

	steps := float64(cal.HomeSteps) + (target-homePos)/cal.PerStep
	if steps < float64(cal.MinSteps) || steps > float64(cal.MaxSteps) {
		return fail(CodeStepsOutOfRange, fmt.Sprintf("steps %.1f outside [%d, %d]", steps, cal.MinSteps, cal.MaxSteps))
	}

	return &AxisTarget{
		Tile:       cell.Addr,
		Axis:       axis,
		Motor:      *motor,
		Steps:      int(math.Round(steps)),
		Normalized: target,
	}
}
