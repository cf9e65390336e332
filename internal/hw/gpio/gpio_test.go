package gpio

import "testing"

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver(true): %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Fatalf("driver = %T, want *MockDriver", d)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestMockDriver_CountsRisingEdges(t *testing.T) {
	m := NewMockDriver()
	_ = m.SetupPin(2, Output)

	for i := 0; i < 3; i++ {
		_ = m.WritePin(2, High)
		_ = m.WritePin(2, Low)
	}
	// A repeated High must not count as a new edge.
	_ = m.WritePin(2, High)
	_ = m.WritePin(2, High)

	if got := m.RisingEdges(2); got != 4 {
		t.Errorf("rising edges = %d, want 4", got)
	}
	if m.PinLevel(2) != High {
		t.Error("pin should be left High")
	}
}

func TestMockDriver_ScriptedInput(t *testing.T) {
	m := NewMockDriver()
	_ = m.SetupPin(5, InputPullDown)

	if level, err := m.ReadPin(5); err != nil || level != Low {
		t.Fatalf("open switch reads %v (%v), want Low", level, err)
	}

	m.SetInput(5, High)
	if level, _ := m.ReadPin(5); level != High {
		t.Error("pressed switch should read High")
	}

	m.SetInput(5, Low)
	if level, _ := m.ReadPin(5); level != Low {
		t.Error("released switch should read Low")
	}
}
