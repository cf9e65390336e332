package motor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/cjeanneret/HelioGo/internal/hw/gpio"
)

// AxisConfig holds the hardware configuration for one stepper axis.
type AxisConfig struct {
	StepPin   int
	DirPin    int
	EnablePin int // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	HomePin   int // limit switch input. 0 = no switch, homing trusts the step counter.

	// HomeSteps is the absolute step count assigned to the home
	// position once homing completes.
	HomeSteps int

	// MaxTravelSteps bounds a homing sweep when a limit switch is
	// configured; <= 0 uses a conservative default.
	MaxTravelSteps int

	// StepDelay is the delay per half-cycle of the STEP pulse.
	// Total step duration = 2*StepDelay. If 0, defaults to 1ms.
	StepDelay time.Duration
}

const defaultMaxTravelSteps = 4000

// ControllerConfig describes one driver board and its axes, indexed
// by axis number.
type ControllerConfig struct {
	ID   string
	Axes []AxisConfig
}

// axisState is the live state of one axis.
type axisState struct {
	cfg      AxisConfig
	delay    time.Duration
	position int
	homed    bool
}

// StepperBank implements Motors on top of A4988-style STEP/DIR/ENABLE
// GPIO driving. It tracks the absolute step position of every axis so
// MoveTo can issue the delta.
type StepperBank struct {
	gpio gpio.Driver

	mu          sync.Mutex
	controllers map[string][]*axisState
}

// NewStepperBank sets up every configured axis pin and returns the
// bank. Axes start enabled (A4988 ENABLE is active LOW) at position 0
// and unhomed.
func NewStepperBank(g gpio.Driver, controllers []ControllerConfig) *StepperBank {
	bank := &StepperBank{
		gpio:        g,
		controllers: make(map[string][]*axisState),
	}
	for _, c := range controllers {
		axes := make([]*axisState, len(c.Axes))
		for i, cfg := range c.Axes {
			_ = g.SetupPin(cfg.StepPin, gpio.Output)
			_ = g.SetupPin(cfg.DirPin, gpio.Output)
			if cfg.EnablePin > 0 {
				_ = g.SetupPin(cfg.EnablePin, gpio.Output)
				_ = g.WritePin(cfg.EnablePin, gpio.Low) // enable by default
			}
			if cfg.HomePin > 0 {
				// Limit switches close to 3V3; pull-down keeps the
				// line from floating while open.
				_ = g.SetupPin(cfg.HomePin, gpio.InputPullDown)
			}
			delay := cfg.StepDelay
			if delay <= 0 {
				delay = 1 * time.Millisecond
			}
			axes[i] = &axisState{cfg: cfg, delay: delay}
		}
		bank.controllers[c.ID] = axes
	}
	return bank
}

// HomeAll homes every axis of the listed controllers. Controllers are
// homed concurrently; axes within a controller sequentially, since
// they share a driver board.
func (b *StepperBank) HomeAll(ctx context.Context, controllerIDs []string) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(controllerIDs))

	for _, id := range controllerIDs {
		axes, ok := b.lookupController(id)
		if !ok {
			return fmt.Errorf("motor: unknown controller %q", id)
		}
		wg.Add(1)
		go func(id string, axes []*axisState) {
			defer wg.Done()
			for i, axis := range axes {
				if err := b.homeAxis(ctx, axis); err != nil {
					errs <- fmt.Errorf("motor: home %s/axis%d: %w", id, i, err)
					return
				}
			}
		}(id, axes)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// MoveTo drives one axis to an absolute step count.
func (b *StepperBank) MoveTo(ctx context.Context, controllerID string, axis int, targetSteps int) error {
	state, err := b.lookupAxis(controllerID, axis)
	if err != nil {
		return err
	}

	b.mu.Lock()
	delta := targetSteps - state.position
	b.mu.Unlock()

	debug.Motor(controllerID, axis, targetSteps)
	if err := b.pulse(ctx, state, delta); err != nil {
		return fmt.Errorf("motor: move %s/axis%d: %w", controllerID, axis, err)
	}

	b.mu.Lock()
	state.position = targetSteps
	b.mu.Unlock()
	return nil
}

// Position returns the tracked absolute position of an axis.
func (b *StepperBank) Position(controllerID string, axis int) (int, error) {
	state, err := b.lookupAxis(controllerID, axis)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return state.position, nil
}

// homeAxis sweeps toward the limit switch when one is configured,
// zeroes the counter there, then advances to the home step count.
// Without a switch the tracked counter is trusted as-is.
func (b *StepperBank) homeAxis(ctx context.Context, state *axisState) error {
	if state.cfg.HomePin > 0 {
		maxTravel := state.cfg.MaxTravelSteps
		if maxTravel <= 0 {
			maxTravel = defaultMaxTravelSteps
		}
		if err := b.gpio.WritePin(state.cfg.DirPin, gpio.Low); err != nil {
			return err
		}
		for i := 0; i < maxTravel; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			hit, err := b.gpio.ReadPin(state.cfg.HomePin)
			if err != nil {
				return err
			}
			if hit == gpio.High {
				break
			}
			if err := b.stepPulse(state); err != nil {
				return err
			}
		}
		b.mu.Lock()
		state.position = 0
		b.mu.Unlock()
	}

	b.mu.Lock()
	delta := state.cfg.HomeSteps - state.position
	b.mu.Unlock()
	if err := b.pulse(ctx, state, delta); err != nil {
		return err
	}

	b.mu.Lock()
	state.position = state.cfg.HomeSteps
	state.homed = true
	b.mu.Unlock()
	return nil
}

// pulse issues delta steps (signed), checking for cancellation
// between pulses.
func (b *StepperBank) pulse(ctx context.Context, state *axisState, delta int) error {
	if delta == 0 {
		return nil
	}

	dirLevel := gpio.High
	steps := delta
	if delta < 0 {
		dirLevel = gpio.Low
		steps = -delta
	}

	if err := b.gpio.WritePin(state.cfg.DirPin, dirLevel); err != nil {
		return err
	}
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.stepPulse(state); err != nil {
			return err
		}
	}
	return nil
}

func (b *StepperBank) stepPulse(state *axisState) error {
	if err := b.gpio.WritePin(state.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(state.delay)
	if err := b.gpio.WritePin(state.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(state.delay)
	return nil
}

func (b *StepperBank) lookupController(id string) ([]*axisState, bool) {
	axes, ok := b.controllers[id]
	return axes, ok
}

func (b *StepperBank) lookupAxis(controllerID string, axis int) (*axisState, error) {
	axes, ok := b.controllers[controllerID]
	if !ok {
		return nil, fmt.Errorf("motor: unknown controller %q", controllerID)
	}
	if axis < 0 || axis >= len(axes) {
		return nil, fmt.Errorf("motor: controller %q has no axis %d", controllerID, axis)
	}
	return axes[axis], nil
}
