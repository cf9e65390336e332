package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/HelioGo/internal/calibrate"
	"github.com/cjeanneret/HelioGo/internal/config"
	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/cjeanneret/HelioGo/internal/grid"
	"github.com/cjeanneret/HelioGo/internal/hw/gpio"
	"github.com/cjeanneret/HelioGo/internal/hw/motor"
	"github.com/cjeanneret/HelioGo/internal/pattern"
	"github.com/cjeanneret/HelioGo/internal/playback"
	"github.com/cjeanneret/HelioGo/internal/profile"
	"github.com/cjeanneret/HelioGo/internal/space"
	"github.com/cjeanneret/HelioGo/internal/vision"
	"github.com/cjeanneret/HelioGo/internal/web"
)

func main() {
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	runCalibration := flag.Bool("calibrate", false, "run a calibration headlessly, save the profile and exit")
	planPattern := flag.String("plan", "", "compute a playback plan for the given pattern JSON file and exit")
	profileID := flag.String("profile", "latest", "profile id to plan against (with -plan)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing stepper bank")
	motors := motor.NewStepperBank(gpioDriver, cfg.MotorControllers())

	debug.Step(3, "Initializing detector")
	detector := newSimDetector(cfg, motors)

	debug.Step(4, "Opening profile store")
	store, err := profile.OpenStore(cfg.Defaults.StorePath)
	if err != nil {
		log.Fatalf("open profile store failed: %v", err)
	}
	defer store.Close()

	if *planPattern != "" {
		if err := printPlan(cfg, store, *planPattern, *profileID); err != nil {
			log.Fatalf("plan failed: %v", err)
		}
		return
	}

	broadcaster := web.NewStatusBroadcaster()
	runner := calibrate.NewRunner(
		cfg.RunSettings(),
		cfg.Assignments(),
		motors,
		detector,
		broadcaster.BroadcastState,
	)

	if *runCalibration {
		if err := runOnce(ctx, runner, store); err != nil {
			log.Fatalf("calibration failed: %v", err)
		}
		return
	}

	addr := cfg.Defaults.ListenAddr
	if port := webPort.port(); port > 0 {
		addr = fmt.Sprintf(":%d", port)
	}
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	mode := cfg.Calibration.Mode
	if mode == "" {
		mode = "auto"
	}
	rig := web.RigInfo{
		GridRows: cfg.Grid.Rows,
		GridCols: cfg.Grid.Cols,
		Mode:     mode,
	}
	srv := web.NewServer(addr, broadcaster, runner, store, rig)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("web server: %v", err)
	}
}

// runOnce drives a single headless calibration to completion and
// persists the resulting profile.
func runOnce(ctx context.Context, runner *calibrate.Runner, store *profile.Store) error {
	if err := runner.Start(ctx); err != nil {
		return err
	}
	<-runner.Done()

	switch phase := runner.Phase(); phase {
	case calibrate.PhaseCompleted:
	case calibrate.PhaseAborted:
		return fmt.Errorf("run aborted")
	default:
		_, err := runner.Result()
		return fmt.Errorf("run ended in phase %s: %w", phase, err)
	}

	prof, err := runner.Result()
	if err != nil {
		return err
	}
	if err := store.Save(prof); err != nil {
		return err
	}

	debug.Summary("Calibration Complete")
	debug.Value("Profile id", prof.ID)
	debug.Value("Calibrated tiles", prof.CalibratedCount())
	fmt.Println(prof.ID)
	return nil
}

// printPlan computes a playback plan against a stored profile and
// writes it to stdout as JSON.
func printPlan(cfg *config.Config, store *profile.Store, patternPath, profileID string) error {
	pat, err := pattern.Load(patternPath)
	if err != nil {
		return err
	}

	var prof *profile.Profile
	if profileID == "latest" {
		prof, err = store.Latest()
	} else {
		prof, err = store.Load(profileID)
	}
	if err != nil {
		return err
	}

	plan := playback.ComputePlan(cfg.Grid, cfg.Assignments(), prof, pat)
	out, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(out, '\n'))
	return err
}

// simDetector stands in for the external blob-detection pipeline: it
// synthesizes a stable blob for every tile whose motors place it on
// the sensor, following the configured step geometry. Replace with a
// camera-backed Detector when the optics are wired up.
type simDetector struct {
	cfg         *config.Config
	motors      *motor.StepperBank
	assignments []grid.AxisAssignment
	perStep     float64
}

func newSimDetector(cfg *config.Config, motors *motor.StepperBank) *simDetector {
	span := cfg.Steps.MaxSteps - cfg.Steps.MinSteps
	return &simDetector{
		cfg:         cfg,
		motors:      motors,
		assignments: cfg.Assignments(),
		perStep:     2.0 / float64(span),
	}
}

func (d *simDetector) Capture(ctx context.Context, opts vision.CaptureOptions) (*vision.BlobMeasurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var blobs []*vision.BlobMeasurement
	for key := 0; key < d.cfg.Grid.Tiles(); key++ {
		a := d.assignments[key]
		if a.X == nil || a.Y == nil {
			continue
		}
		px, err := d.motors.Position(a.X.Controller, a.X.Axis)
		if err != nil {
			return nil, err
		}
		py, err := d.motors.Position(a.Y.Controller, a.Y.Axis)
		if err != nil {
			return nil, err
		}

		addr := grid.TileKey(key).Address(d.cfg.Grid)
		home := d.truthPosition(addr)
		x := home.X + float64(px-d.cfg.Steps.HomeSteps)*d.perStep
		y := home.Y + float64(py-d.cfg.Steps.HomeSteps)*d.perStep
		if math.Abs(x) > 1 || math.Abs(y) > 1 {
			continue
		}

		samples := make([]vision.RawSample, 3)
		for i := range samples {
			samples[i] = vision.RawSample{X: x, Y: y, Size: 0.18, Response: 0.9}
		}
		m, err := vision.Aggregate(samples, vision.AggregateOptions{
			SourceWidth:  d.cfg.View.SourceWidth,
			SourceHeight: d.cfg.View.SourceHeight,
		})
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, m)
	}
	return vision.SelectNearest(blobs, opts), nil
}

// truthPosition is the simulated physical home of a tile: its
// fractional grid position plus a small deterministic misalignment.
func (d *simDetector) truthPosition(addr grid.TileAddress) space.Point {
	fx := cellFraction(addr.Col, d.cfg.Grid.Cols) * 0.8
	fy := cellFraction(addr.Row, d.cfg.Grid.Rows) * 0.8
	jitter := float64(int(addr.Key)%5-2) * 0.01
	return space.Point{X: fx + jitter, Y: fy - jitter}
}

func cellFraction(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(2*i+1)/float64(n) - 1
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or
// -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
