package v4l2

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(reg Registry) *Manager {
	return NewManager(reg, "vidip", testLogger())
}

func TestNextFreeSlotSkipsExistingAndLabeled(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.AddForeignDevice(0, "Integrated Webcam")
	reg.AddForeignDevice(1, "HDMI Capture")
	m := newTestManager(reg)

	labeled := []Slot{{Index: 2, Label: "vidip2"}}
	index, ok := m.NextFreeSlot(labeled)
	if !ok {
		t.Fatal("expected a free slot")
	}
	if index != 3 {
		t.Fatalf("NextFreeSlot() = %d, expected 3", index)
	}
}

func TestNextFreeSlotReturnsSmallest(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.AddForeignDevice(0, "Integrated Webcam")
	reg.AddForeignDevice(5, "HDMI Capture")
	m := newTestManager(reg)

	index, ok := m.NextFreeSlot(nil)
	if !ok || index != 1 {
		t.Fatalf("NextFreeSlot() = %d, %v, expected 1, true", index, ok)
	}
}

func TestNextFreeSlotExhausted(t *testing.T) {
	reg := NewMemoryRegistry()
	for i := 0; i < MaxSlots; i++ {
		reg.AddForeignDevice(i, "Occupied")
	}
	m := newTestManager(reg)

	if index, ok := m.NextFreeSlot(nil); ok {
		t.Fatalf("NextFreeSlot() = %d, expected not found", index)
	}
}

func TestAllocateTwiceYieldsDistinctSlots(t *testing.T) {
	reg := NewMemoryRegistry()
	m := newTestManager(reg)

	first, err := m.Allocate()
	if err != nil {
		t.Fatalf("first Allocate failed: %v", err)
	}
	second, err := m.Allocate()
	if err != nil {
		t.Fatalf("second Allocate failed: %v", err)
	}

	if first.Index == second.Index {
		t.Fatalf("both allocations returned index %d", first.Index)
	}

	labeled, err := m.LabeledSlots()
	if err != nil {
		t.Fatalf("LabeledSlots failed: %v", err)
	}
	if len(labeled) != 2 {
		t.Fatalf("expected 2 labeled slots, got %d", len(labeled))
	}
	for i, want := range []Slot{{Index: 0, Label: "vidip0"}, {Index: 1, Label: "vidip1"}} {
		if labeled[i] != want {
			t.Fatalf("labeled[%d] = %+v, expected %+v", i, labeled[i], want)
		}
	}
}

func TestAllocateSkipsForeignDevices(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.AddForeignDevice(0, "Integrated Webcam")
	m := newTestManager(reg)

	slot, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if slot.Index != 1 || slot.Label != "vidip1" {
		t.Fatalf("Allocate() = %+v, expected index 1 label vidip1", slot)
	}
}

func TestAllocateNoFreeSlot(t *testing.T) {
	reg := NewMemoryRegistry()
	for i := 0; i < MaxSlots; i++ {
		reg.AddForeignDevice(i, "Occupied")
	}
	m := newTestManager(reg)

	if _, err := m.Allocate(); !errors.Is(err, ErrNoFreeSlot) {
		t.Fatalf("Allocate() error = %v, expected ErrNoFreeSlot", err)
	}
}

func TestAllocateModuleFailure(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.LoadErr = ErrModuleFailed
	m := newTestManager(reg)

	if _, err := m.Allocate(); !errors.Is(err, ErrModuleFailed) {
		t.Fatalf("Allocate() error = %v, expected ErrModuleFailed", err)
	}
}

// silentLoadRegistry pretends the module loaded but never creates the nodes.
type silentLoadRegistry struct {
	*MemoryRegistry
}

func (silentLoadRegistry) LoadModule([]Slot) error { return nil }

func TestAllocateDetectsMissingDevice(t *testing.T) {
	m := newTestManager(silentLoadRegistry{NewMemoryRegistry()})

	if _, err := m.Allocate(); !errors.Is(err, ErrDeviceMissing) {
		t.Fatalf("Allocate() error = %v, expected ErrDeviceMissing", err)
	}
}

func TestReleaseAllRefusesWhileInUse(t *testing.T) {
	reg := NewMemoryRegistry()
	if err := reg.LoadModule([]Slot{{Index: 0, Label: "vidip0"}, {Index: 1, Label: "vidip1"}}); err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	reg.SetInUse(1, true)
	m := newTestManager(reg)

	err := m.ReleaseAll()
	var inUse *InUseError
	if !errors.As(err, &inUse) {
		t.Fatalf("ReleaseAll() error = %v, expected InUseError", err)
	}
	if len(inUse.Slots) != 1 || inUse.Slots[0].Index != 1 {
		t.Fatalf("InUseError reports %+v, expected slot 1", inUse.Slots)
	}

	// Nothing must have changed.
	if !reg.ModuleLoaded() {
		t.Fatal("module was unloaded despite busy device")
	}
	if !reg.DeviceExists(0) || !reg.DeviceExists(1) {
		t.Fatal("devices were removed despite busy device")
	}
}

// failingInUseRegistry cannot tell whether devices are held open.
type failingInUseRegistry struct {
	*MemoryRegistry
}

func (failingInUseRegistry) InUse(path string) (bool, error) {
	return false, errors.New("fuser " + path + ": exit status 2")
}

func TestReleaseAllAbortsWhenInUseCheckFails(t *testing.T) {
	reg := NewMemoryRegistry()
	if err := reg.LoadModule([]Slot{{Index: 0, Label: "vidip0"}}); err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	m := newTestManager(failingInUseRegistry{reg})

	if err := m.ReleaseAll(); err == nil {
		t.Fatal("ReleaseAll succeeded despite inconclusive in-use check")
	}

	// An inconclusive check must not lead to an unload.
	if !reg.ModuleLoaded() {
		t.Fatal("module was unloaded despite failed in-use check")
	}
	if !reg.DeviceExists(0) {
		t.Fatal("device was removed despite failed in-use check")
	}
}

func TestReleaseAllRemovesModule(t *testing.T) {
	reg := NewMemoryRegistry()
	if err := reg.LoadModule([]Slot{{Index: 0, Label: "vidip0"}}); err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	m := newTestManager(reg)

	if err := m.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll failed: %v", err)
	}
	if reg.ModuleLoaded() {
		t.Fatal("module still loaded")
	}
	if reg.DeviceExists(0) {
		t.Fatal("labeled device still present")
	}
}

func TestReleaseAllWithZeroLabeledSlots(t *testing.T) {
	reg := NewMemoryRegistry()
	if err := reg.LoadModule(nil); err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	m := newTestManager(reg)

	// Module loaded with no labeled devices is removed unconditionally.
	if err := m.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll failed: %v", err)
	}
	if reg.ModuleLoaded() {
		t.Fatal("module still loaded")
	}
}

func TestReleaseAllModuleNotLoaded(t *testing.T) {
	m := newTestManager(NewMemoryRegistry())

	if err := m.ReleaseAll(); !errors.Is(err, ErrModuleNotLoaded) {
		t.Fatalf("ReleaseAll() error = %v, expected ErrModuleNotLoaded", err)
	}
}

func TestInspect(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.AddForeignDevice(0, "Integrated Webcam")
	if err := reg.LoadModule([]Slot{{Index: 3, Label: "vidip3"}, {Index: 1, Label: "vidip1"}}); err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	m := newTestManager(reg)

	slots, err := m.Inspect()
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	want := []Slot{{Index: 1, Label: "vidip1"}, {Index: 3, Label: "vidip3"}}
	if len(slots) != len(want) {
		t.Fatalf("Inspect() returned %d slots, expected %d", len(slots), len(want))
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("slots[%d] = %+v, expected %+v", i, slots[i], want[i])
		}
	}
}

func TestInspectModuleNotLoaded(t *testing.T) {
	m := newTestManager(NewMemoryRegistry())

	if _, err := m.Inspect(); !errors.Is(err, ErrModuleNotLoaded) {
		t.Fatalf("Inspect() error = %v, expected ErrModuleNotLoaded", err)
	}
}

func TestSlotPath(t *testing.T) {
	s := Slot{Index: 7, Label: "vidip7"}
	if s.Path() != "/dev/video7" {
		t.Fatalf("Path() = %q, expected /dev/video7", s.Path())
	}
}
