package gpio

import "testing"

func TestMockDriver_WriteThenRead(t *testing.T) {
	m := NewMockDriver()
	if err := m.SetupPin(14, Output); err != nil {
		t.Fatalf("SetupPin: %v", err)
	}
	if err := m.WritePin(14, High); err != nil {
		t.Fatalf("WritePin: %v", err)
	}
	got, err := m.ReadPin(14)
	if err != nil {
		t.Fatalf("ReadPin: %v", err)
	}
	if got != High {
		t.Errorf("ReadPin(14) = %v, want high", got)
	}
	if m.Writes() != 1 {
		t.Errorf("Writes() = %d, want 1", m.Writes())
	}
}

func TestMockDriver_UnsetPinReadsLow(t *testing.T) {
	m := NewMockDriver()
	got, err := m.ReadPin(30)
	if err != nil {
		t.Fatalf("ReadPin: %v", err)
	}
	if got != Low {
		t.Errorf("unset pin = %v, want low", got)
	}
}

func TestMockDriver_Mode(t *testing.T) {
	m := NewMockDriver()
	_ = m.SetupPin(30, Input)
	mode, ok := m.Mode(30)
	if !ok || mode != Input {
		t.Errorf("Mode(30) = %v, %v; want Input, true", mode, ok)
	}
	if _, ok := m.Mode(31); ok {
		t.Error("Mode(31) reported as set up")
	}
}

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver(true): %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("NewDriver(true) returned %T, want *MockDriver", d)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLevel_String(t *testing.T) {
	if High.String() != "high" || Low.String() != "low" {
		t.Errorf("unexpected level strings %q/%q", High.String(), Low.String())
	}
}
