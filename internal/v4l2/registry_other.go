//go:build !linux || !cgo

package v4l2

import (
	"fmt"
	"log/slog"
	"runtime"
)

// unsupportedRegistry keeps the tool compiling on non-Linux hosts.
// Every operation fails; the CLI refuses to run before reaching it.
type unsupportedRegistry struct{}

// NewRegistry returns a Registry for the running host.
func NewRegistry(_ *slog.Logger) Registry {
	return unsupportedRegistry{}
}

func errUnsupported() error {
	return fmt.Errorf("virtual video devices require Linux, not %s", runtime.GOOS)
}

func (unsupportedRegistry) ModuleLoaded() bool         { return false }
func (unsupportedRegistry) Devices() ([]Device, error) { return nil, errUnsupported() }
func (unsupportedRegistry) DeviceExists(int) bool      { return false }
func (unsupportedRegistry) InUse(string) (bool, error) { return false, errUnsupported() }
func (unsupportedRegistry) LoadModule([]Slot) error    { return errUnsupported() }
func (unsupportedRegistry) UnloadModule() error        { return errUnsupported() }
