// Package profiling captures pprof and execution trace profiles around a
// CLI invocation, typically a foreground daemon run.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options names the profile files to write. Empty paths are skipped.
type Options struct {
	// CPU is sampled for the whole session.
	CPU string
	// Trace records the execution trace for the whole session.
	Trace string
	// Heap is written when the session stops.
	Heap string
	// Goroutine is written when the session stops. Useful for finding the
	// goroutine a stuck sync is parked in.
	Goroutine string
}

// Enabled reports whether any profile was requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Trace != "" || o.Heap != "" || o.Goroutine != ""
}

// Session is a running set of profiles.
type Session struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins the continuous profiles in opts. On error nothing is left
// running.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}

	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		s.cpuFile = f
	}

	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err != nil {
			s.stopContinuous()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopContinuous()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		s.traceFile = f
	}

	return s, nil
}

// Stop ends the continuous profiles and writes the snapshot ones.
func (s *Session) Stop() error {
	errs := []error{s.stopContinuous()}

	if s.opts.Heap != "" {
		// Collect first so the profile shows live objects only.
		runtime.GC()
		errs = append(errs, writeProfile("heap", s.opts.Heap, 0))
	}
	if s.opts.Goroutine != "" {
		errs = append(errs, writeProfile("goroutine", s.opts.Goroutine, 1))
	}
	return errors.Join(errs...)
}

func (s *Session) stopContinuous() error {
	var errs []error
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		errs = append(errs, s.cpuFile.Close())
		s.cpuFile = nil
	}
	if s.traceFile != nil {
		trace.Stop()
		errs = append(errs, s.traceFile.Close())
		s.traceFile = nil
	}
	return errors.Join(errs...)
}

func writeProfile(name, path string, debug int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup(name).WriteTo(f, debug); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
