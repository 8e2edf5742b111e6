package v4l2

import (
	"fmt"
	"log/slog"
	"strings"
)

// Manager implements the slot bookkeeping on top of a Registry.
type Manager struct {
	reg    Registry
	label  string // label prefix identifying slots owned by this tool
	logger *slog.Logger
}

// NewManager creates a slot manager using the given label prefix.
func NewManager(reg Registry, label string, logger *slog.Logger) *Manager {
	return &Manager{reg: reg, label: label, logger: logger}
}

// SlotLabel returns the card label used for the given slot index.
func (m *Manager) SlotLabel(index int) string {
	return fmt.Sprintf("%s%d", m.label, index)
}

// LabeledSlots returns existing device nodes whose card name carries the
// tool's label prefix, ascending by index.
func (m *Manager) LabeledSlots() ([]Slot, error) {
	devices, err := m.reg.Devices()
	if err != nil {
		return nil, err
	}
	var slots []Slot
	for _, d := range devices {
		if strings.HasPrefix(d.Name, m.label) {
			slots = append(slots, Slot{Index: d.Index, Label: d.Name})
		}
	}
	return slots, nil
}

// NextFreeSlot scans indices 0..MaxSlots-1 in order and returns the first
// with no device node that is not in the labeled set. The second return is
// false when every index is taken.
func (m *Manager) NextFreeSlot(labeled []Slot) (int, bool) {
	taken := make(map[int]bool, len(labeled))
	for _, s := range labeled {
		taken[s.Index] = true
	}
	for i := 0; i < MaxSlots; i++ {
		if !taken[i] && !m.reg.DeviceExists(i) {
			return i, true
		}
	}
	return -1, false
}

// Allocate adds one labeled slot. The desired state is computed up front
// (current labeled set plus the new slot) and applied in a single module
// reload, then the new node is verified to exist with the expected label.
func (m *Manager) Allocate() (Slot, error) {
	labeled, err := m.LabeledSlots()
	if err != nil {
		return Slot{}, err
	}

	index, ok := m.NextFreeSlot(labeled)
	if !ok {
		return Slot{}, ErrNoFreeSlot
	}

	slot := Slot{Index: index, Label: m.SlotLabel(index)}
	desired := append(labeled, slot)
	m.logger.Info("allocating virtual device", "path", slot.Path(), "label", slot.Label)

	if err := m.reg.LoadModule(desired); err != nil {
		return Slot{}, err
	}

	// Confirm the node came up with our label.
	after, err := m.LabeledSlots()
	if err != nil {
		return Slot{}, err
	}
	for _, s := range after {
		if s.Index == slot.Index && s.Label == slot.Label && m.reg.DeviceExists(s.Index) {
			return slot, nil
		}
	}
	return Slot{}, fmt.Errorf("%w: %s", ErrDeviceMissing, slot.Path())
}

// ReleaseAll removes the module and every labeled slot with it. If any
// labeled slot is held open by an external process, nothing is changed and
// an InUseError reports the busy set.
func (m *Manager) ReleaseAll() error {
	if !m.reg.ModuleLoaded() {
		return ErrModuleNotLoaded
	}

	labeled, err := m.LabeledSlots()
	if err != nil {
		return err
	}

	var busy []Slot
	for _, s := range labeled {
		inUse, err := m.reg.InUse(s.Path())
		if err != nil {
			return err
		}
		if inUse {
			busy = append(busy, s)
		}
	}
	if len(busy) > 0 {
		return &InUseError{Slots: busy}
	}

	// A loaded module with zero labeled slots is removed as well: the tool
	// assumes it owns the loopback module on this host.
	m.logger.Info("removing module", "module", ModuleName, "slots", len(labeled))
	return m.reg.UnloadModule()
}

// Inspect returns the labeled slots currently present.
// ErrModuleNotLoaded is returned when the provider is absent.
func (m *Manager) Inspect() ([]Slot, error) {
	if !m.reg.ModuleLoaded() {
		return nil, ErrModuleNotLoaded
	}
	return m.LabeledSlots()
}
