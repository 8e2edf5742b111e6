// Package cmd implements the vidip command line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ErikMN/vidip/internal/camera"
	"github.com/ErikMN/vidip/internal/config"
	"github.com/ErikMN/vidip/internal/ffmpeg"
	"github.com/ErikMN/vidip/internal/logging"
	"github.com/ErikMN/vidip/internal/process"
	"github.com/ErikMN/vidip/internal/v4l2"
)

// Exit codes. Each fatal error class maps to a distinct code so scripts can
// tell them apart.
const (
	exitOK          = 0 // success
	exitErrInput    = 1 // bad input, missing privilege or missing dependency
	exitErrNoSlot   = 2 // no free slot, module not loaded
	exitErrDevice   = 3 // device file missing, unload refused or module failure
	exitErrPipeline = 4 // streaming pipeline failure
)

// exitError carries the process exit code alongside the message.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func failf(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	root := newRootCmd(version)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "vidip:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitErrInput
}

func newRootCmd(version string) *cobra.Command {
	opts := config.Defaults()
	var (
		load        bool
		unload      bool
		check       bool
		showVersion bool
	)

	root := &cobra.Command{
		Use:   "vidip [flags] <IP_ADDRESS | last-3-digits>",
		Short: "Use a network camera as a virtual local video device",
		Long: `vidip bridges a network RTSP camera into a virtual local video device
backed by the v4l2loopback kernel module, so webcam applications can use it
as if it were a physically attached camera.

The camera address is either a full IPv4 dotted quad or 1-3 digits appended
to the configured prefix. Credentials come from the ` + config.EnvPrefix + `CAM_USER and
` + config.EnvPrefix + `CAM_PASS environment variables.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("vidip %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
				return nil
			}

			if err := config.LoadConfig(opts, cmd); err != nil {
				return failf(exitErrInput, "%v", err)
			}
			initLogging(opts)

			if runtime.GOOS != "linux" {
				return failf(exitErrInput, "virtual video devices require Linux, not %s", runtime.GOOS)
			}

			modes := 0
			for _, m := range []bool{load, unload, check} {
				if m {
					modes++
				}
			}
			if modes > 1 {
				return failf(exitErrInput, "flags -l, -u and -c are mutually exclusive")
			}

			// Every mode depends on the same external collaborators, so a
			// missing one fails fast before any mode-specific work.
			if err := requireTools("modprobe", ffmpeg.Binary, "fuser"); err != nil {
				return err
			}

			devLogger := logging.GetLogger("devices")
			manager := v4l2.NewManager(v4l2.NewRegistry(devLogger), opts.Label, devLogger)

			switch {
			case load:
				return runLoad(manager)
			case unload:
				return runUnload(manager)
			case check:
				return runCheck(manager)
			default:
				if len(args) == 0 {
					_ = cmd.Usage()
					return failf(exitErrInput, "missing camera address")
				}
				return runStream(opts, manager, args[0])
			}
		},
	}

	flags := root.Flags()
	flags.BoolVarP(&load, "load", "l", false, "allocate a new virtual device slot")
	flags.BoolVarP(&unload, "unload", "u", false, "release all labeled virtual device slots")
	flags.BoolVarP(&check, "check", "c", false, "list currently labeled slots")
	flags.BoolVarP(&showVersion, "version", "v", false, "print version")

	flags.StringVar(&opts.Config, "config", opts.Config, "path to configuration file")
	flags.StringVar(&opts.CameraPrefix, "camera-prefix", opts.CameraPrefix, "address prefix for short camera suffixes")
	flags.StringVar(&opts.Label, "label", opts.Label, "card label prefix for devices owned by this tool")
	flags.StringVar(&opts.Transport, "transport", opts.Transport, "RTSP transport (tcp, udp)")
	flags.StringVar(&opts.PixelFormat, "pixel-format", opts.PixelFormat, "pixel format written to the device")
	flags.StringVar(&opts.Resolution, "resolution", opts.Resolution, "output resolution, empty keeps the camera's")
	flags.StringVar(&opts.Framerate, "framerate", opts.Framerate, "output framerate, empty keeps the camera's")
	flags.StringVar(&opts.LoggingLevel, "logging-level", opts.LoggingLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&opts.LoggingFormat, "logging-format", opts.LoggingFormat, "log format (text, json)")

	return root
}

func initLogging(opts *config.Options) {
	level := opts.LoggingLevel
	if config.DebugEnabled() {
		level = "debug"
	}
	logging.Initialize(logging.Config{
		Level:  level,
		Format: opts.LoggingFormat,
		Modules: map[string]string{
			"devices": opts.LoggingDevices,
			"ffmpeg":  opts.LoggingFFmpeg,
		},
	})
}

// requireRoot ensures the invoking user can reload kernel modules.
func requireRoot(action string) error {
	if os.Geteuid() != 0 {
		return failf(exitErrInput, "must be root to %s virtual devices", action)
	}
	return nil
}

// requireTools fails fast when an external collaborator is missing from PATH.
func requireTools(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return failf(exitErrInput, "required tool %q not found in PATH", name)
		}
	}
	return nil
}

// codeFor maps slot manager errors to exit codes.
func codeFor(err error) int {
	var inUse *v4l2.InUseError
	switch {
	case errors.Is(err, v4l2.ErrNoFreeSlot), errors.Is(err, v4l2.ErrModuleNotLoaded):
		return exitErrNoSlot
	case errors.As(err, &inUse),
		errors.Is(err, v4l2.ErrDeviceMissing),
		errors.Is(err, v4l2.ErrModuleFailed):
		return exitErrDevice
	default:
		return exitErrInput
	}
}

func runLoad(manager *v4l2.Manager) error {
	if err := requireRoot("allocate"); err != nil {
		return err
	}

	slot, err := manager.Allocate()
	if err != nil {
		return failf(codeFor(err), "%v", err)
	}
	fmt.Printf("allocated %s (%s)\n", slot.Path(), slot.Label)
	return nil
}

func runUnload(manager *v4l2.Manager) error {
	if err := requireRoot("release"); err != nil {
		return err
	}

	if err := manager.ReleaseAll(); err != nil {
		return failf(codeFor(err), "%v", err)
	}
	fmt.Printf("removed %s and all labeled devices\n", v4l2.ModuleName)
	return nil
}

func runCheck(manager *v4l2.Manager) error {
	slots, err := manager.Inspect()
	if err != nil {
		return failf(codeFor(err), "%v", err)
	}
	if len(slots) == 0 {
		fmt.Println("no labeled devices found")
		return nil
	}
	for _, s := range slots {
		fmt.Printf("%s\t%s\n", s.Path(), s.Label)
	}
	return nil
}

func runStream(opts *config.Options, manager *v4l2.Manager, input string) error {
	host, err := camera.ResolveHost(input, opts.CameraPrefix)
	if err != nil {
		return failf(exitErrInput, "%v", err)
	}
	endpoint := camera.Endpoint{
		Host: host,
		User: opts.CamUser,
		Pass: opts.CamPass,
		Path: opts.CameraPath,
	}

	slots, err := manager.Inspect()
	if err != nil {
		if errors.Is(err, v4l2.ErrModuleNotLoaded) {
			return failf(exitErrNoSlot, "%v (run \"vidip -l\" first)", err)
		}
		return failf(codeFor(err), "%v", err)
	}
	if len(slots) == 0 {
		return failf(exitErrNoSlot, "no labeled device allocated (run \"vidip -l\" first)")
	}
	slot := slots[0]
	if _, err := os.Stat(slot.Path()); err != nil {
		return failf(exitErrDevice, "device file %s missing", slot.Path())
	}

	command := ffmpeg.BuildCommand(pipelineParams(opts, endpoint.URL(), slot.Path()))

	logger := logging.GetLogger("cli")
	logger.Info("starting stream", "source", endpoint.Redacted(), "sink", slot.Path())

	proc := process.New("stream", command, logger)
	proc.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)

	// Hot-reload: regenerate the pipeline when the config file changes and
	// restart only if the command actually differs.
	watcher := config.NewWatcher(opts.Config, logger)
	watcher.OnReload(func(fresh *config.Options) {
		newCommand := ffmpeg.BuildCommand(pipelineParams(fresh, endpoint.URL(), slot.Path()))
		if newCommand != proc.Command() {
			logger.Info("pipeline options changed, restarting")
			proc.RequestRestart(newCommand)
		} else {
			logger.Debug("config reloaded, pipeline unchanged")
		}
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("config watcher unavailable, hot-reload disabled", "error", err)
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	if code := proc.RunWithRestart(); code != 0 {
		return failf(exitErrPipeline, "streaming pipeline exited with code %d", code)
	}
	return nil
}

func pipelineParams(opts *config.Options, sourceURL, devicePath string) *ffmpeg.Params {
	return &ffmpeg.Params{
		SourceURL:   sourceURL,
		Transport:   opts.Transport,
		PixelFormat: opts.PixelFormat,
		Resolution:  opts.Resolution,
		FPS:         opts.Framerate,
		DevicePath:  devicePath,
		ExtraArgs:   opts.ExtraArgs,
	}
}
