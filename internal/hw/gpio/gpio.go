// Package gpio abstracts the Raspberry Pi GPIO lines the mirror rig
// drives: the STEP/DIR/ENABLE outputs of the tile steppers and the
// limit-switch inputs homing sweeps watch.
package gpio

import (
	"sync"

	"github.com/cjeanneret/HelioGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode configures the direction of a GPIO pin.
type PinMode int

const (
	Input PinMode = iota

	// InputPullDown is an input held Low until driven High. The rig's
	// limit switches close to 3V3, so a homing sweep reads High exactly
	// while the switch is pressed and never floats in between.
	InputPullDown

	Output
)

// Driver is the abstract GPIO interface the stepper bank talks to.
// The real Raspberry Pi driver and the mock are interchangeable.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	}
	return NewRPiRealDriver()
}

// MockDriver simulates the rig's pins in memory: output levels are
// retained, Low-to-High transitions counted (one per stepper pulse),
// and input levels can be scripted so a test can press a limit switch.
type MockDriver struct {
	mu     sync.Mutex
	modes  map[int]PinMode
	levels map[int]Level
	rises  map[int]int
}

// NewMockDriver returns a mock with every pin Low.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		modes:  make(map[int]PinMode),
		levels: make(map[int]Level),
		rises:  make(map[int]int),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[pin] = mode
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels[pin] == Low && level == High {
		m.rises[pin]++
	}
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level := m.levels[pin]
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// SetInput drives an input pin from outside, e.g. pressing a tile's
// limit switch mid-test.
func (m *MockDriver) SetInput(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
}

// PinLevel returns the last written or scripted level of a pin.
func (m *MockDriver) PinLevel(pin int) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

// RisingEdges returns how many Low-to-High transitions a pin has seen.
// On a STEP pin this is the number of pulses issued to the motor.
func (m *MockDriver) RisingEdges(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rises[pin]
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
