// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package signals centralizes process-level signal bookkeeping for
// the shim and runtime CLI processes themselves. The workload is
// never signalled from here; pkg/runtimecli's kill verb owns that via
// process-group kill.
package signals

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

var signalLog = logrus.WithField("source", "signals")

// CrashOnError causes a coredump to be produced when Die is called
// following an internal error rather than a clean shutdown request.
var CrashOnError = false

// DieCb runs as the first step of Die().
type DieCb func()

// SetLogger installs the logger used by this package.
func SetLogger(logger *logrus.Entry) {
	signalLog = logger
}

// HandledSignals returns the signals SetupSignalHandler installs
// handlers for (cmd/reaper-runtime wires it; cmd/reaper-shim does
// not): only the set needed for diagnostics on process exit,
// never anything that would signal the workload. The daemon
// deliberately has no SIGTERM handler of its own; containerd signals
// the workload through the kill verb, not the daemon.
func HandledSignals() []os.Signal {
	return []os.Signal{
		syscall.SIGBUS,
		syscall.SIGILL,
		syscall.SIGSEGV,
		syscall.SIGABRT,
		syscall.SIGQUIT,
		syscall.SIGUSR1,
	}
}

// FatalSignal reports whether sig should terminate the process after
// diagnostics are emitted.
func FatalSignal(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGBUS, syscall.SIGILL, syscall.SIGSEGV, syscall.SIGABRT, syscall.SIGQUIT:
		return true
	default:
		return false
	}
}

// NonFatalSignal reports whether sig merits a backtrace dump without
// terminating the process (SIGUSR1, used as an operator diagnostic
// trigger).
func NonFatalSignal(sig syscall.Signal) bool {
	return sig == syscall.SIGUSR1
}

// Backtrace writes a multi-goroutine stack dump to the logger.
func Backtrace() {
	buf := &bytes.Buffer{}
	for _, p := range pprof.Profiles() {
		pprof.Lookup(p.Name()).WriteTo(buf, 2)
	}
	for _, line := range strings.Split(buf.String(), "\n") {
		if line != "" {
			signalLog.Info(line)
		}
	}
}

// Die runs cb, dumps a backtrace to the logger, and terminates the
// process. CrashOnError requests a coredump instead of a clean exit.
func Die(cb DieCb) {
	if cb != nil {
		cb()
	}

	Backtrace()

	if CrashOnError {
		signalLog.Error("fatal error, raising SIGABRT to force a core dump")
		syscall.Kill(os.Getpid(), syscall.SIGABRT)
		// Unreachable in practice, but keep a deterministic fallback.
	}

	os.Exit(1)
}

// HandlePanic recovers from a panic, logging it, then calls Die.
func HandlePanic(cb DieCb) {
	if r := recover(); r != nil {
		signalLog.WithField("panic", fmt.Sprintf("%v", r)).Error("fatal error")
		Die(cb)
	}
}

// SetupSignalHandler starts a goroutine that logs fatal and
// diagnostic signals delivered to this process, and terminates the
// process through Die on a fatal one. It only covers the calling
// process's own crash reporting; the workload is never signalled from
// here.
func SetupSignalHandler(debug bool) {
	sigCh := make(chan os.Signal, 8)
	for _, sig := range HandledSignals() {
		signal.Notify(sigCh, sig)
	}

	go func() {
		for sig := range sigCh {
			nativeSignal, ok := sig.(syscall.Signal)
			if !ok {
				signalLog.WithField("signal", sig.String()).Error("received signal of unexpected type")
				continue
			}

			if FatalSignal(nativeSignal) {
				signalLog.WithField("signal", sig).Error("received fatal signal")
				Die(nil)
			} else if debug && NonFatalSignal(nativeSignal) {
				signalLog.WithField("signal", sig).Debug("handling signal")
				Backtrace()
			}
		}
	}()
}
