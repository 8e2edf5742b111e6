// Package process runs the external streaming pipeline as a subprocess:
// start, stream output through a log parser, stop gracefully on signals,
// and restart in place when the generated command changes.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ErikMN/vidip/internal/logging"
)

// LogParser parses a subprocess output line into a log level and message.
type LogParser func(line string) (level, msg string)

type exitReason int

const (
	exitReasonProcessExit exitReason = iota
	exitReasonShutdown
	exitReasonRestart
)

// killedExitCode is reported when the subprocess had to be force-killed.
const killedExitCode = 137

// Process manages the lifecycle of one subprocess.
type Process struct {
	id        string
	command   string
	commandMu sync.RWMutex
	cmd       *exec.Cmd

	logger       logging.Logger
	outputLogger logging.Logger // logger for subprocess output (nil = use logger)
	logParser    LogParser      // nil = everything at info

	ctx         context.Context
	cancel      context.CancelFunc
	restartChan chan string

	gracefulTimeout time.Duration // SIGINT grace period before force kill
	killTimeout     time.Duration // wait after Kill before giving up
}

// New creates a process for the given command string.
func New(id, command string, logger logging.Logger) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	return &Process{
		id:              id,
		command:         command,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		restartChan:     make(chan string, 1),
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
	}
}

// SetLogParser routes subprocess output through the given logger and parser.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.outputLogger = logger
	p.logParser = parser
}

// Command returns the current command string.
func (p *Process) Command() string {
	p.commandMu.RLock()
	defer p.commandMu.RUnlock()
	return p.command
}

// RequestRestart asks the running process to restart with a new command.
// Non-blocking: a second request while one is pending is dropped.
func (p *Process) RequestRestart(newCommand string) {
	select {
	case p.restartChan <- newCommand:
		p.logger.Info("restart requested")
	default:
		p.logger.Warn("restart already pending, ignoring")
	}
}

// Shutdown triggers a graceful shutdown.
func (p *Process) Shutdown() {
	p.cancel()
}

// running holds the channels monitoring a started subprocess.
type running struct {
	done       <-chan error
	outputDone chan struct{} // receives twice, once per output stream
}

func (p *Process) start(command string) (*running, error) {
	args, err := splitCommand(command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	p.cmd = exec.Command(args[0], args[1:]...)
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}
	p.logger.Info("process started", "id", p.id, "pid", p.cmd.Process.Pid)
	p.logger.Debug("command", "command", command)

	outputDone := make(chan struct{}, 2)
	go func() {
		p.streamOutput(stdout, "stdout")
		outputDone <- struct{}{}
	}()
	go func() {
		p.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
	}()

	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	return &running{done: done, outputDone: outputDone}, nil
}

// Run starts the subprocess and blocks until it exits, the context is
// cancelled, or a termination signal arrives. Returns the exit code.
func (p *Process) Run() int {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	code, _ := p.runOnce(sigChan)
	return code
}

// RunWithRestart runs the subprocess and loops on restart requests.
// Returns when the process exits on its own or a shutdown is triggered.
func (p *Process) RunWithRestart() int {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		code, reason := p.runOnce(sigChan)
		if reason == exitReasonRestart {
			p.logger.Info("restarting process")
			continue
		}
		return code
	}
}

func (p *Process) runOnce(sigChan <-chan os.Signal) (int, exitReason) {
	rp, err := p.start(p.Command())
	if err != nil {
		p.logger.Error("failed to start process", "error", err)
		return 1, exitReasonProcessExit
	}
	defer func() {
		<-rp.outputDone
		<-rp.outputDone
	}()

	select {
	case <-p.ctx.Done():
		p.logger.Info("shutting down process")
		p.interrupt()
		p.logger.Debug("process stopped", "exit_code", p.waitForExit(rp.done))
		return 0, exitReasonShutdown

	case sig := <-sigChan:
		p.logger.Info("received signal", "signal", sig.String())
		p.interrupt()
		p.logger.Debug("process stopped", "exit_code", p.waitForExit(rp.done))
		return 0, exitReasonShutdown

	case newCmd := <-p.restartChan:
		p.interrupt()
		p.commandMu.Lock()
		p.command = newCmd
		p.commandMu.Unlock()
		return p.waitForExit(rp.done), exitReasonRestart

	case err := <-rp.done:
		code := exitCodeFromError(err)
		p.logger.Info("process exited", "exit_code", code)
		return code, exitReasonProcessExit
	}
}

// interrupt sends SIGINT to the subprocess without waiting.
func (p *Process) interrupt() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil {
		p.logger.Warn("failed to send SIGINT", "error", err)
	}
}

// waitForExit waits for the process to exit, force-killing after the grace
// period.
func (p *Process) waitForExit(done <-chan error) int {
	select {
	case err := <-done:
		return exitCodeFromError(err)
	case <-time.After(p.gracefulTimeout):
		p.logger.Warn("graceful shutdown timeout, killing", "timeout", p.gracefulTimeout)
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Error("failed to kill process", "error", err)
			}
		}
		select {
		case <-done:
		case <-time.After(p.killTimeout):
			p.logger.Error("process did not exit after kill")
		}
		return killedExitCode
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func (p *Process) streamOutput(reader io.Reader, source string) {
	logger := p.outputLogger
	if logger == nil {
		logger = p.logger
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "fatal", "panic", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "verbose", "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("error reading output", "source", source, "error", err)
	}
}

// splitCommand splits a command string into arguments, honoring single and
// double quotes and backslash escapes.
func splitCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, errors.New("unclosed quote in command")
	}
	return args, nil
}
