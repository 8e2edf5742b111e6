// Package v4l2 manages v4l2loopback virtual device slots: allocating,
// labeling, detecting and freeing numbered /dev/videoN nodes.
//
// All kernel interaction goes through the Registry interface so the slot
// logic can be tested against an in-memory implementation.
package v4l2

import (
	"errors"
	"fmt"
	"strings"
)

// MaxSlots is the number of device slots scanned (indices 0..MaxSlots-1).
const MaxSlots = 64

// ModuleName is the kernel module providing the virtual devices.
const ModuleName = "v4l2loopback"

// Slot is one virtual device slot owned by this tool.
type Slot struct {
	Index int
	Label string
}

// Path returns the device node path for the slot.
func (s Slot) Path() string {
	return fmt.Sprintf("/dev/video%d", s.Index)
}

// Device is one existing video4linux node as reported by the registry.
type Device struct {
	Index int
	Path  string
	Name  string // driver-reported card name
}

// Registry abstracts the device and module state of the host. The real
// implementation talks to sysfs, modprobe and fuser; tests use MemoryRegistry.
type Registry interface {
	// ModuleLoaded reports whether the loopback module is loaded.
	ModuleLoaded() bool
	// Devices enumerates existing video4linux nodes, ascending by index.
	Devices() ([]Device, error)
	// DeviceExists reports whether the node for the given index is present.
	DeviceExists(index int) bool
	// InUse reports whether an external process holds the device open.
	InUse(path string) (bool, error)
	// LoadModule reloads the module with the complete slot set. The driver
	// only accepts its full device list at load time.
	LoadModule(slots []Slot) error
	// UnloadModule removes the module and all its devices.
	UnloadModule() error
}

// Sentinel errors distinguishing the fatal failure classes.
var (
	ErrNoFreeSlot      = errors.New("no free virtual device slot available")
	ErrModuleNotLoaded = errors.New(ModuleName + " module is not loaded")
	ErrDeviceMissing   = errors.New("expected device node missing after module reload")
	ErrModuleFailed    = errors.New(ModuleName + " module operation failed")
)

// InUseError reports labeled slots held open by external processes.
// Unloading refuses to act while any are busy.
type InUseError struct {
	Slots []Slot
}

func (e *InUseError) Error() string {
	paths := make([]string, len(e.Slots))
	for i, s := range e.Slots {
		paths[i] = s.Path()
	}
	return "devices in use: " + strings.Join(paths, ", ")
}
