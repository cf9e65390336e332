package motor

import (
	"context"
	"testing"
	"time"

	"github.com/cjeanneret/HelioGo/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls []gpioCall
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) writeCallsForPin(pin int) []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" && c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

func testBank(drv gpio.Driver) *StepperBank {
	return NewStepperBank(drv, []ControllerConfig{
		{
			ID: "c0",
			Axes: []AxisConfig{
				{StepPin: 2, DirPin: 3, HomeSteps: 100, StepDelay: time.Microsecond},
				{StepPin: 4, DirPin: 5, HomeSteps: 100, StepDelay: time.Microsecond},
			},
		},
	})
}

func TestStepperBank_MoveToPulsesDelta(t *testing.T) {
	drv := &recordingDriver{}
	bank := testBank(drv)

	if err := bank.MoveTo(context.Background(), "c0", 0, 5); err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}

	// 5 steps = 5 high/low pulse pairs on the STEP pin.
	writes := drv.writeCallsForPin(2)
	if len(writes) != 10 {
		t.Fatalf("STEP pin writes = %d, want 10", len(writes))
	}
	pos, err := bank.Position("c0", 0)
	if err != nil || pos != 5 {
		t.Errorf("Position = %d (%v), want 5", pos, err)
	}
}

func TestStepperBank_MoveBackwardSetsDirLow(t *testing.T) {
	drv := &recordingDriver{}
	bank := testBank(drv)

	if err := bank.MoveTo(context.Background(), "c0", 0, -3); err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}

	dirWrites := drv.writeCallsForPin(3)
	if len(dirWrites) == 0 {
		t.Fatal("no DIR pin writes")
	}
	if dirWrites[len(dirWrites)-1].level != gpio.Low {
		t.Error("DIR pin should be Low for a backward move")
	}
}

func TestStepperBank_MoveToSamePositionIsNoop(t *testing.T) {
	drv := &recordingDriver{}
	bank := testBank(drv)

	_ = bank.MoveTo(context.Background(), "c0", 0, 4)
	before := len(drv.writeCallsForPin(2))
	_ = bank.MoveTo(context.Background(), "c0", 0, 4)
	after := len(drv.writeCallsForPin(2))

	if before != after {
		t.Errorf("repeat MoveTo pulsed %d extra writes, want 0", after-before)
	}
}

func TestStepperBank_HomeAllSetsHomePosition(t *testing.T) {
	drv := &recordingDriver{}
	bank := testBank(drv)

	if err := bank.HomeAll(context.Background(), []string{"c0"}); err != nil {
		t.Fatalf("HomeAll failed: %v", err)
	}
	for axis := 0; axis < 2; axis++ {
		pos, err := bank.Position("c0", axis)
		if err != nil || pos != 100 {
			t.Errorf("axis %d position = %d (%v), want 100", axis, pos, err)
		}
	}
}

func TestStepperBank_HomingStopsAtLimitSwitch(t *testing.T) {
	drv := gpio.NewMockDriver()
	bank := NewStepperBank(drv, []ControllerConfig{
		{
			ID: "c0",
			Axes: []AxisConfig{
				{StepPin: 2, DirPin: 3, HomePin: 7, HomeSteps: 40, MaxTravelSteps: 500, StepDelay: time.Microsecond},
			},
		},
	})

	// Switch already pressed: no sweep pulses, just the advance from
	// the zeroed counter to the home position.
	drv.SetInput(7, gpio.High)
	if err := bank.HomeAll(context.Background(), []string{"c0"}); err != nil {
		t.Fatalf("HomeAll failed: %v", err)
	}
	if got := drv.RisingEdges(2); got != 40 {
		t.Errorf("step pulses = %d, want 40", got)
	}
	pos, err := bank.Position("c0", 0)
	if err != nil || pos != 40 {
		t.Errorf("Position = %d (%v), want 40", pos, err)
	}
}

func TestStepperBank_UnknownController(t *testing.T) {
	bank := testBank(&recordingDriver{})

	if err := bank.MoveTo(context.Background(), "nope", 0, 1); err == nil {
		t.Error("MoveTo on unknown controller should fail")
	}
	if err := bank.HomeAll(context.Background(), []string{"nope"}); err == nil {
		t.Error("HomeAll on unknown controller should fail")
	}
	if _, err := bank.Position("c0", 9); err == nil {
		t.Error("Position on unknown axis should fail")
	}
}

func TestStepperBank_CancelledContext(t *testing.T) {
	bank := testBank(&recordingDriver{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := bank.MoveTo(ctx, "c0", 0, 50); err == nil {
		t.Error("MoveTo with cancelled context should fail")
	}
}

func TestMock_RecordsCommandsAndPositions(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	_ = m.HomeAll(ctx, []string{"a", "b"})
	_ = m.MoveTo(ctx, "a", 1, 250)

	cmds := m.Commands()
	if len(cmds) != 3 {
		t.Fatalf("commands = %d, want 3", len(cmds))
	}
	if cmds[2].Op != "move" || cmds[2].Target != 250 {
		t.Errorf("last command = %+v, want move to 250", cmds[2])
	}
	if m.Position("a", 1) != 250 {
		t.Errorf("Position = %d, want 250", m.Position("a", 1))
	}
}
