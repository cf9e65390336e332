// Package calibrate drives a calibration run over the mirror array:
// homing, staging, per-tile optical measurement with step tests,
// blueprint inference and the final alignment pass. The runner owns
// all run state and publishes it through snapshots; hardware is
// reached only through the motor and detector interfaces.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/cjeanneret/HelioGo/internal/grid"
	"github.com/cjeanneret/HelioGo/internal/hw/motor"
	"github.com/cjeanneret/HelioGo/internal/profile"
	"github.com/cjeanneret/HelioGo/internal/space"
	"github.com/cjeanneret/HelioGo/internal/vision"
)

var (
	// ErrRunActive is returned by Start while a run is in progress.
	ErrRunActive = errors.New("calibrate: a run is already active")

	// ErrNoCalibratableTiles is returned by Start when no tile has
	// motors assigned on both axes.
	ErrNoCalibratableTiles = errors.New("calibrate: no tile has both axes assigned")

	errNoBlob = errors.New("no blob detected")
)

// Runner executes calibration runs. A Runner is reusable: once a run
// reaches a terminal phase, Start may be called again.
type Runner struct {
	settings    Settings
	assignments []grid.AxisAssignment // indexed by tile key
	motors      motor.Motors
	detector    vision.Detector
	observer    Observer

	mu         sync.Mutex
	phase      Phase
	pausedFrom Phase
	resumeCh   chan struct{} // non-nil while paused
	advanceCh  chan struct{}
	tiles      []*TileRunState // indexed by tile key
	log        []CommandEntry
	total      int // calibratable tiles this run
	runErr     error
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	result     *profile.Profile
}

// NewRunner builds a runner over the given hardware. observer may be
// nil. assignments are indexed by tile key; missing entries mean the
// tile has no motors.
func NewRunner(settings Settings, assignments []grid.AxisAssignment, motors motor.Motors, detector vision.Detector, observer Observer) *Runner {
	return &Runner{
		settings:    settings,
		assignments: assignments,
		motors:      motors,
		detector:    detector,
		observer:    observer,
		phase:       PhaseIdle,
	}
}

// Start begins a calibration run. It fails synchronously with
// ErrRunActive when a run is in progress and ErrNoCalibratableTiles
// when no tile can be calibrated; otherwise the run proceeds in the
// background until a terminal phase. ctx cancellation aborts the run.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunActive
	}

	total := 0
	for key := 0; key < r.settings.Grid.Tiles(); key++ {
		if r.assignment(grid.TileKey(key)).Calibratable() {
			total++
		}
	}
	if total == 0 {
		r.mu.Unlock()
		return ErrNoCalibratableTiles
	}

	r.tiles = make([]*TileRunState, r.settings.Grid.Tiles())
	for key := range r.tiles {
		k := grid.TileKey(key)
		status := profile.TilePending
		if !r.assignment(k).Calibratable() {
			status = profile.TileSkipped
		}
		r.tiles[key] = &TileRunState{Addr: k.Address(r.settings.Grid), Status: status}
	}
	r.log = nil
	r.total = total
	r.runErr = nil
	r.result = nil
	r.phase = PhaseIdle
	r.pausedFrom = ""
	r.resumeCh = nil
	r.advanceCh = make(chan struct{}, 1)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	debug.Grid(r.settings.Grid.Rows, r.settings.Grid.Cols, total)
	r.notify()
	go r.run(runCtx)
	return nil
}

// Pause suspends the run at its next checkpoint. The reported phase
// becomes PhasePaused immediately; in-flight motor moves finish.
func (r *Runner) Pause() {
	r.mu.Lock()
	if !r.running || r.resumeCh != nil || r.phase.Terminal() {
		r.mu.Unlock()
		return
	}
	from := r.phase
	r.pausedFrom = from
	r.phase = PhasePaused
	r.resumeCh = make(chan struct{})
	r.mu.Unlock()

	debug.Phase(string(from), string(PhasePaused))
	r.notify()
}

// Resume releases a paused run and restores the phase it was paused
// from.
func (r *Runner) Resume() {
	r.mu.Lock()
	if r.resumeCh == nil {
		r.mu.Unlock()
		return
	}
	close(r.resumeCh)
	r.resumeCh = nil
	to := r.pausedFrom
	r.phase = to
	r.pausedFrom = ""
	r.mu.Unlock()

	debug.Phase(string(PhasePaused), string(to))
	r.notify()
}

// Abort cancels the run. Takes effect at the next cancellation point;
// a paused run aborts without resuming work.
func (r *Runner) Abort() {
	r.mu.Lock()
	resume := r.resumeCh
	r.resumeCh = nil
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if resume != nil {
		close(resume)
	}
}

// Advance releases the next unit of work in step mode. A no-op in
// auto mode or when no run is active.
func (r *Runner) Advance() {
	r.mu.Lock()
	ch := r.advanceCh
	r.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Phase returns the current run phase.
func (r *Runner) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Active reports whether a run is in progress.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done returns a channel closed when the current run reaches a
// terminal phase. Already closed when no run is active.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.done
}

// Result returns the profile produced by the last completed run, and
// the run error if the run ended in PhaseError.
func (r *Runner) Result() (*profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.runErr
}

// Snapshot returns the current run state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Runner) run(ctx context.Context) {
	err := r.execute(ctx)

	r.mu.Lock()
	from := r.phase
	switch {
	case err == nil:
		r.phase = PhaseCompleted
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		r.phase = PhaseAborted
	default:
		r.phase = PhaseError
		r.runErr = err
	}
	to := r.phase
	r.running = false
	cancel := r.cancel
	r.cancel = nil
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	debug.Phase(string(from), string(to))
	if err != nil && to == PhaseError {
		debug.Error(err)
	}
	r.notify()
	close(done)
}

func (r *Runner) execute(ctx context.Context) error {
	if err := r.homeAll(ctx); err != nil {
		return err
	}
	if err := r.gate(ctx); err != nil {
		return err
	}
	if err := r.stageAll(ctx); err != nil {
		return err
	}
	if err := r.gate(ctx); err != nil {
		return err
	}

	r.setPhase(PhaseMeasuring)
	for key := 0; key < r.settings.Grid.Tiles(); key++ {
		k := grid.TileKey(key)
		if r.tileStatus(k) != profile.TileStaged {
			continue
		}
		if err := r.measureTile(ctx, k); err != nil {
			return err
		}
		if err := r.gate(ctx); err != nil {
			return err
		}
	}

	prof := r.finalize()
	r.mu.Lock()
	r.result = prof
	r.mu.Unlock()

	if prof.Blueprint != nil && prof.CalibratedCount() > 0 {
		if err := r.alignAll(ctx, prof); err != nil {
			return err
		}
	}
	return nil
}

// homeAll homes every referenced controller. Axes within a controller
// home in sequence; controllers home concurrently inside the driver.
func (r *Runner) homeAll(ctx context.Context) error {
	r.setPhase(PhaseHoming)
	ids := grid.Controllers(r.assignments)
	r.logCommand("home controllers %v", ids)
	return r.motors.HomeAll(ctx, ids)
}

// stageAll parks every calibratable tile at its aside position in
// parallel, so exactly one blob appears during each later measurement.
// A tile whose staging move fails is marked failed and skipped.
func (r *Runner) stageAll(ctx context.Context) error {
	r.setPhase(PhaseStaging)
	home := r.settings.Steps.HomeSteps
	aside := home + r.settings.asideSteps()

	var tasks []func() error
	for key := 0; key < r.settings.Grid.Tiles(); key++ {
		k := grid.TileKey(key)
		assign := r.assignment(k)
		if !assign.Calibratable() {
			continue
		}
		tasks = append(tasks, func() error {
			if err := r.moveAxis(ctx, assign.X, aside); err != nil {
				return r.stageFailure(ctx, k, err)
			}
			if err := r.moveAxis(ctx, assign.Y, home); err != nil {
				return r.stageFailure(ctx, k, err)
			}
			r.setTileStatus(k, profile.TileStaged, "")
			return nil
		})
	}
	return runParallel(tasks)
}

func (r *Runner) stageFailure(ctx context.Context, key grid.TileKey, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.setTileStatus(key, profile.TileFailed, fmt.Sprintf("staging: %v", err))
	return nil
}

// measureTile performs the full per-tile measurement: return from
// aside to home, capture the home position, run the X and Y step
// tests, park aside again. Returns an error only on cancellation;
// measurement failures mark the tile failed and let the run continue.
func (r *Runner) measureTile(ctx context.Context, key grid.TileKey) error {
	addr := key.Address(r.settings.Grid)
	assign := r.assignment(key)
	home := r.settings.Steps.HomeSteps
	aside := home + r.settings.asideSteps()

	r.setTileStatus(key, profile.TileMeasuring, "")

	fail := func(what string, err error) error {
		if ctx.Err() != nil {
			// Leave the tile resumable rather than half-measured.
			r.setTileStatus(key, profile.TileStaged, "")
			return ctx.Err()
		}
		r.setTileStatus(key, profile.TileFailed, fmt.Sprintf("%s: %v", what, err))
		if parkErr := r.moveAxis(ctx, assign.X, aside); parkErr != nil && ctx.Err() == nil {
			// The tile's blob may now pollute later measurements.
			r.updateTile(key, func(t *TileRunState) {
				t.Warnings = append(t.Warnings, fmt.Sprintf("park aside: %v", parkErr))
			})
			debug.Live("Tile %s: park aside after failure: %v", addr, parkErr)
		}
		return nil
	}

	// hold pauses step mode between measurement units; it only fails
	// on cancellation.
	hold := func() error {
		if err := r.gate(ctx); err != nil {
			r.setTileStatus(key, profile.TileStaged, "")
			return err
		}
		return nil
	}

	if err := r.moveAxis(ctx, assign.X, home); err != nil {
		return fail("move to home", err)
	}
	if err := r.moveAxis(ctx, assign.Y, home); err != nil {
		return fail("move to home", err)
	}
	if err := r.settle(ctx); err != nil {
		return fail("settle", err)
	}

	homeMeas, err := r.capture(ctx, addr, r.expectedPosition(addr))
	if err != nil {
		return fail("home measurement", err)
	}
	r.updateTile(key, func(t *TileRunState) {
		t.Metrics.Home = homeMeas
	})
	debug.Measure(addr.String(), homeMeas.X, homeMeas.Y, homeMeas.Size)
	if err := hold(); err != nil {
		return err
	}

	slopeX, sizeX, err := r.stepTest(ctx, key, addr, assign.X, 0, homeMeas)
	if err != nil {
		return fail("x step test", err)
	}
	if err := hold(); err != nil {
		return err
	}
	slopeY, sizeY, err := r.stepTest(ctx, key, addr, assign.Y, 1, homeMeas)
	if err != nil {
		return fail("y step test", err)
	}
	if err := hold(); err != nil {
		return err
	}

	if err := r.moveAxis(ctx, assign.X, aside); err != nil {
		return fail("park aside", err)
	}

	r.updateTile(key, func(t *TileRunState) {
		t.Status = profile.TileCompleted
		t.Metrics.SlopeX = slopeX
		t.Metrics.SlopeY = slopeY
		t.Metrics.SizeDelta = math.Max(sizeX, sizeY)
	})
	debug.Tile(addr.String(), string(profile.TileCompleted))
	return nil
}

// stepTest displaces one axis by the test step count, measures the
// blob displacement, and restores the axis. A failed test degrades to
// a warning on the tile; only cancellation is returned as an error.
func (r *Runner) stepTest(ctx context.Context, key grid.TileKey, addr grid.TileAddress, ref *grid.MotorRef, axis int, home *vision.BlobMeasurement) (*float64, float64, error) {
	testSteps := r.settings.stepTestSteps()
	homeSteps := r.settings.Steps.HomeSteps
	name := "x"
	if axis == 1 {
		name = "y"
	}

	warn := func(err error) {
		r.updateTile(key, func(t *TileRunState) {
			t.Warnings = append(t.Warnings, fmt.Sprintf("%s step test: %v", name, err))
		})
		debug.Live("Tile %s: %s step test degraded: %v", addr, name, err)
	}

	if err := r.moveAxis(ctx, ref, homeSteps+testSteps); err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		warn(err)
		return nil, 0, nil
	}
	if err := r.settle(ctx); err != nil {
		return nil, 0, err
	}

	pos := home.Position()
	m, err := r.capture(ctx, addr, &pos)
	if err != nil && ctx.Err() != nil {
		return nil, 0, ctx.Err()
	}

	if moveErr := r.moveAxis(ctx, ref, homeSteps); moveErr != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		warn(moveErr)
	}
	if err != nil {
		warn(err)
		return nil, 0, nil
	}

	displaced := m.X - home.X
	if axis == 1 {
		displaced = m.Y - home.Y
	}
	slope := displaced / float64(testSteps)
	debug.Verbose("Tile %s: %s slope %.6g per step", addr, name, slope)
	return &slope, math.Abs(m.Size - home.Size), nil
}

// finalize infers the blueprint from all completed home measurements
// and derives per-tile summaries, producing the run's profile.
func (r *Runner) finalize() *profile.Profile {
	r.mu.Lock()
	var homes []grid.HomeMeasurement
	for _, t := range r.tiles {
		if t.Status == profile.TileCompleted && t.Metrics.Home != nil {
			homes = append(homes, grid.HomeMeasurement{Addr: t.Addr, Home: t.Metrics.Home})
		}
	}
	r.mu.Unlock()

	bp := grid.ComputeBlueprint(r.settings.Grid, homes, grid.BlueprintOptions{
		Gap:                 r.settings.Gap,
		MADThreshold:        r.settings.MADThreshold,
		DisableRobustSizing: r.settings.DisableRobustSizing,
	})
	if bp != nil {
		debug.PrintStruct("blueprint", bp)
	}

	prof := &profile.Profile{
		Grid:      r.settings.Grid,
		View:      r.settings.View,
		Blueprint: bp,
		Steps:     r.settings.Steps,
		StepTest:  profile.StepTestSettings{Steps: r.settings.stepTestSteps()},
		Tiles:     make(map[grid.TileKey]*profile.TileResult, len(r.tiles)),
	}

	r.mu.Lock()
	for key, t := range r.tiles {
		res := &profile.TileResult{
			Status:   t.Status,
			Message:  t.Message,
			Warnings: append([]string(nil), t.Warnings...),
			Home:     t.Metrics.Home,
		}
		if t.Status == profile.TileCompleted && bp != nil {
			sum := grid.ComputeTileSummary(t.Addr, t.Metrics.Home, grid.AxisSlopes{
				X: t.Metrics.SlopeX,
				Y: t.Metrics.SlopeY,
			}, t.Metrics.SizeDelta, bp, r.settings.Steps)
			res.Summary = &sum
			t.Metrics.IdealCenter = &sum.IdealCenter
			t.Metrics.Offset = &sum.Offset
		}
		prof.Tiles[grid.TileKey(key)] = res
	}
	r.mu.Unlock()
	r.notify()
	return prof
}

// alignAll physically cancels each calibrated tile's home offset, in
// parallel. A failed alignment move degrades to a tile warning.
func (r *Runner) alignAll(ctx context.Context, prof *profile.Profile) error {
	r.setPhase(PhaseAligning)

	var tasks []func() error
	for key := 0; key < r.settings.Grid.Tiles(); key++ {
		k := grid.TileKey(key)
		res := prof.Tile(k)
		if !res.Calibrated() {
			continue
		}
		assign := r.assignment(k)
		sum := res.Summary
		tasks = append(tasks, func() error {
			if err := r.moveAxis(ctx, assign.X, alignTarget(sum.AxisX, sum.Offset.X)); err != nil {
				return r.alignFailure(ctx, k, err)
			}
			if err := r.moveAxis(ctx, assign.Y, alignTarget(sum.AxisY, sum.Offset.Y)); err != nil {
				return r.alignFailure(ctx, k, err)
			}
			return nil
		})
	}
	return runParallel(tasks)
}

func (r *Runner) alignFailure(ctx context.Context, key grid.TileKey, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.updateTile(key, func(t *TileRunState) {
		t.Warnings = append(t.Warnings, fmt.Sprintf("alignment: %v", err))
	})
	return nil
}

// alignTarget moves the tile by the negative of its home offset
// through the calibrated slope, clamped to the step range.
func alignTarget(cal *grid.AxisCalibration, offset float64) int {
	target := cal.HomeSteps + int(math.Round(-offset/cal.PerStep))
	if target < cal.MinSteps {
		target = cal.MinSteps
	}
	if target > cal.MaxSteps {
		target = cal.MaxSteps
	}
	return target
}

// capture acquires one aggregated measurement with retries. A blob
// miss or unstable aggregation is retried after a delay; cancellation
// is returned immediately.
func (r *Runner) capture(ctx context.Context, addr grid.TileAddress, expected *space.Point) (*vision.BlobMeasurement, error) {
	opts := vision.CaptureOptions{
		Timeout:     r.settings.CaptureTimeout,
		Expected:    expected,
		MaxDistance: r.settings.MaxMatchDistance,
	}
	attempts := r.settings.retries()
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := r.checkpoint(ctx); err != nil {
			return nil, err
		}
		r.logCommand("capture %s (attempt %d/%d)", addr, i+1, attempts)
		m, err := r.detector.Capture(ctx, opts)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case m != nil:
			return m, nil
		default:
			lastErr = errNoBlob
		}
		if i < attempts-1 {
			if err := wait(ctx, r.settings.retryDelay()); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", lastErr, attempts)
}

// expectedPosition predicts where a tile's blob should appear, so the
// detector can disambiguate between multiple visible blobs. Prefers
// extrapolation from the nearest already-measured tile; the first tile
// falls back to its fractional position within the grid.
func (r *Runner) expectedPosition(addr grid.TileAddress) *space.Point {
	type measured struct {
		addr grid.TileAddress
		pos  space.Point
	}
	r.mu.Lock()
	var homes []measured
	for _, t := range r.tiles {
		if t.Metrics.Home != nil {
			homes = append(homes, measured{t.Addr, t.Metrics.Home.Position()})
		}
	}
	r.mu.Unlock()

	g := r.settings.Grid
	if len(homes) == 0 {
		return &space.Point{
			X: cellFraction(addr.Col, g.Cols),
			Y: cellFraction(addr.Row, g.Rows),
		}
	}

	// Default pitch assumes the grid spans the sensor; refined from
	// the widest measured pair on each axis.
	pitchX := 2.0 / float64(g.Cols)
	pitchY := 2.0 / float64(g.Rows)
	bestDC, bestDR := 0, 0
	for i := 0; i < len(homes); i++ {
		for j := i + 1; j < len(homes); j++ {
			if dc := homes[j].addr.Col - homes[i].addr.Col; absInt(dc) > absInt(bestDC) {
				bestDC = dc
				pitchX = (homes[j].pos.X - homes[i].pos.X) / float64(dc)
			}
			if dr := homes[j].addr.Row - homes[i].addr.Row; absInt(dr) > absInt(bestDR) {
				bestDR = dr
				pitchY = (homes[j].pos.Y - homes[i].pos.Y) / float64(dr)
			}
		}
	}

	nearest := homes[0]
	bestDist := gridDistance(nearest.addr, addr)
	for _, h := range homes[1:] {
		if d := gridDistance(h.addr, addr); d < bestDist {
			nearest = h
			bestDist = d
		}
	}
	return &space.Point{
		X: nearest.pos.X + float64(addr.Col-nearest.addr.Col)*pitchX,
		Y: nearest.pos.Y + float64(addr.Row-nearest.addr.Row)*pitchY,
	}
}

// cellFraction maps a grid index to the cell center's fraction of the
// sensor in [-1, 1].
func cellFraction(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(2*i+1)/float64(n) - 1
}

func gridDistance(a, b grid.TileAddress) int {
	return absInt(a.Row-b.Row) + absInt(a.Col-b.Col)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (r *Runner) moveAxis(ctx context.Context, ref *grid.MotorRef, target int) error {
	if err := r.checkpoint(ctx); err != nil {
		return err
	}
	if ref == nil {
		return fmt.Errorf("calibrate: no motor assigned")
	}
	r.logCommand("move %s/axis%d -> %d", ref.Controller, ref.Axis, target)
	debug.Motor(ref.Controller, ref.Axis, target)
	return r.motors.MoveTo(ctx, ref.Controller, ref.Axis, target)
}

func (r *Runner) settle(ctx context.Context) error {
	return wait(ctx, r.settings.SettleDelay)
}

// gate is the boundary between units of work: it honors a pending
// pause and, in step mode, blocks until Advance is called.
func (r *Runner) gate(ctx context.Context) error {
	if err := r.checkpoint(ctx); err != nil {
		return err
	}
	if r.settings.mode() != ModeStep {
		return nil
	}
	r.mu.Lock()
	ch := r.advanceCh
	r.mu.Unlock()
	select {
	case <-ch:
		return r.checkpoint(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkpoint blocks while the run is paused and surfaces cancellation.
func (r *Runner) checkpoint(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		ch := r.resumeCh
		r.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) setPhase(p Phase) {
	r.mu.Lock()
	from := r.phase
	r.phase = p
	r.mu.Unlock()
	debug.Phase(string(from), string(p))
	r.notify()
}

func (r *Runner) assignment(key grid.TileKey) grid.AxisAssignment {
	if int(key) < len(r.assignments) {
		return r.assignments[key]
	}
	return grid.AxisAssignment{}
}

func (r *Runner) tileStatus(key grid.TileKey) profile.TileStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tiles[key].Status
}

func (r *Runner) setTileStatus(key grid.TileKey, status profile.TileStatus, message string) {
	r.updateTile(key, func(t *TileRunState) {
		t.Status = status
		t.Message = message
	})
	debug.Tile(key.Address(r.settings.Grid).String(), string(status))
}

func (r *Runner) updateTile(key grid.TileKey, fn func(*TileRunState)) {
	r.mu.Lock()
	fn(r.tiles[key])
	r.mu.Unlock()
	r.notify()
}

func (r *Runner) logCommand(format string, args ...interface{}) {
	r.mu.Lock()
	r.log = append(r.log, CommandEntry{At: time.Now(), Text: fmt.Sprintf(format, args...)})
	r.mu.Unlock()
	r.notify()
}

func (r *Runner) notify() {
	if r.observer == nil {
		return
	}
	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.observer(snap)
}

func (r *Runner) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:    r.phase,
		Progress: Progress{Total: r.total},
	}
	snap.Tiles = make([]TileRunState, len(r.tiles))
	for i, t := range r.tiles {
		c := *t
		c.Warnings = append([]string(nil), t.Warnings...)
		snap.Tiles[i] = c
		switch t.Status {
		case profile.TileCompleted:
			snap.Progress.Completed++
		case profile.TileFailed:
			snap.Progress.Failed++
		}
	}
	snap.Log = append([]CommandEntry(nil), r.log...)
	if r.runErr != nil {
		snap.Err = r.runErr.Error()
	}
	return snap
}

// runParallel runs all tasks concurrently and returns the first error.
func runParallel(tasks []func() error) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(tasks))
	for _, task := range tasks {
		wg.Add(1)
		go func(fn func() error) {
			defer wg.Done()
			if err := fn(); err != nil {
				errCh <- err
			}
		}(task)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
