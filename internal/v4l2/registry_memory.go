package v4l2

import (
	"fmt"
	"sort"
)

// MemoryRegistry is an in-memory Registry for tests. It mimics the kernel
// behavior the slot logic depends on: a module that only accepts its full
// device set at load time, and device nodes keyed by index.
type MemoryRegistry struct {
	loaded  bool
	devices map[int]Device
	owned   map[int]bool // indices created by LoadModule, removed on unload
	inUse   map[string]bool

	// LoadErr and UnloadErr, when set, are returned by the module operations
	// to exercise failure paths.
	LoadErr   error
	UnloadErr error
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		devices: make(map[int]Device),
		owned:   make(map[int]bool),
		inUse:   make(map[string]bool),
	}
}

// AddForeignDevice registers a device node not owned by this tool,
// e.g. a physical webcam occupying an index.
func (m *MemoryRegistry) AddForeignDevice(index int, name string) {
	m.devices[index] = Device{
		Index: index,
		Path:  fmt.Sprintf("/dev/video%d", index),
		Name:  name,
	}
}

// SetInUse marks a device as held open by an external process.
func (m *MemoryRegistry) SetInUse(index int, inUse bool) {
	m.inUse[fmt.Sprintf("/dev/video%d", index)] = inUse
}

func (m *MemoryRegistry) ModuleLoaded() bool {
	return m.loaded
}

func (m *MemoryRegistry) Devices() ([]Device, error) {
	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

func (m *MemoryRegistry) DeviceExists(index int) bool {
	_, ok := m.devices[index]
	return ok
}

func (m *MemoryRegistry) InUse(path string) (bool, error) {
	return m.inUse[path], nil
}

func (m *MemoryRegistry) LoadModule(slots []Slot) error {
	if m.LoadErr != nil {
		return m.LoadErr
	}
	if m.loaded {
		if err := m.UnloadModule(); err != nil {
			return err
		}
	}
	m.loaded = true
	for _, s := range slots {
		m.devices[s.Index] = Device{Index: s.Index, Path: s.Path(), Name: s.Label}
		m.owned[s.Index] = true
	}
	return nil
}

func (m *MemoryRegistry) UnloadModule() error {
	if m.UnloadErr != nil {
		return m.UnloadErr
	}
	m.loaded = false
	// Only module-owned devices disappear with the module.
	for index := range m.owned {
		delete(m.devices, index)
		delete(m.owned, index)
	}
	return nil
}
