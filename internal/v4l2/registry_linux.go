//go:build linux && cgo

package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/jochenvg/go-udev"
)

// linuxRegistry is the real Registry backed by udev, modprobe and fuser.
type linuxRegistry struct {
	logger *slog.Logger
}

// NewRegistry returns a Registry for the running host.
func NewRegistry(logger *slog.Logger) Registry {
	return &linuxRegistry{logger: logger}
}

func (r *linuxRegistry) ModuleLoaded() bool {
	_, err := os.Stat("/sys/module/" + ModuleName)
	return err == nil
}

func (r *linuxRegistry) Devices() ([]Device, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchSubsystem("video4linux"); err != nil {
		return nil, fmt.Errorf("udev enumerate: %w", err)
	}

	udevDevices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("udev enumerate: %w", err)
	}

	var devices []Device
	for _, d := range udevDevices {
		index, err := strconv.Atoi(d.Sysnum())
		if err != nil {
			continue
		}
		node := d.Devnode()
		if node == "" {
			node = fmt.Sprintf("/dev/video%d", index)
		}
		devices = append(devices, Device{
			Index: index,
			Path:  node,
			Name:  strings.TrimSpace(d.SysattrValue("name")),
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

func (r *linuxRegistry) DeviceExists(index int) bool {
	_, err := os.Stat(fmt.Sprintf("/dev/video%d", index))
	return err == nil
}

// InUse asks fuser whether any process holds the device open.
// fuser exits 0 when a user exists and 1 when the device is free. Any other
// status (usage error, killed by signal) is surfaced so callers never treat
// an inconclusive check as "free".
func (r *linuxRegistry) InUse(path string) (bool, error) {
	err := exec.Command("fuser", "-s", path).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("fuser %s: %w", path, err)
}

// LoadModule reloads the loopback module with the full slot set. The driver
// only supports specifying its complete device list at load time, so an
// already loaded module is removed first.
func (r *linuxRegistry) LoadModule(slots []Slot) error {
	if r.ModuleLoaded() {
		if err := r.UnloadModule(); err != nil {
			return err
		}
	}

	sorted := make([]Slot, len(slots))
	copy(sorted, slots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	numbers := make([]string, len(sorted))
	labels := make([]string, len(sorted))
	for i, s := range sorted {
		numbers[i] = strconv.Itoa(s.Index)
		labels[i] = s.Label
	}

	args := []string{
		ModuleName,
		"video_nr=" + strings.Join(numbers, ","),
		"card_label=" + strings.Join(labels, ","),
		"exclusive_caps=1",
	}
	r.logger.Debug("loading module", "args", strings.Join(args, " "))

	if out, err := exec.Command("modprobe", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("%w: modprobe: %s", ErrModuleFailed, firstLine(out, err))
	}
	return nil
}

func (r *linuxRegistry) UnloadModule() error {
	r.logger.Debug("unloading module", "module", ModuleName)
	if out, err := exec.Command("modprobe", "-r", ModuleName).CombinedOutput(); err != nil {
		return fmt.Errorf("%w: modprobe -r: %s", ErrModuleFailed, firstLine(out, err))
	}
	return nil
}

// firstLine extracts a usable diagnostic from modprobe output.
func firstLine(out []byte, err error) string {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return err.Error()
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
