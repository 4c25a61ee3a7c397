package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"polybind/internal/trace"
)

// ringTracer is kept so a panic can dump the recent events and the spans
// that were in flight.
var ringTracer *trace.RingTracer

type traceFlags struct {
	output    string
	level     trace.Level
	stream    bool
	ring      int
	format    trace.Format
	heartbeat time.Duration
}

func readTraceFlags(cmd *cobra.Command) (traceFlags, error) {
	pf := cmd.Root().PersistentFlags()
	var (
		tf                  traceFlags
		level, mode, format string
		err                 error
	)
	if tf.output, err = pf.GetString("trace"); err != nil {
		return tf, fmt.Errorf("failed to get trace flag: %w", err)
	}
	if level, err = pf.GetString("trace-level"); err != nil {
		return tf, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	if mode, err = pf.GetString("trace-mode"); err != nil {
		return tf, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	if format, err = pf.GetString("trace-format"); err != nil {
		return tf, fmt.Errorf("failed to get trace-format flag: %w", err)
	}
	if tf.ring, err = pf.GetInt("trace-ring-size"); err != nil {
		return tf, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	if tf.heartbeat, err = pf.GetDuration("trace-heartbeat"); err != nil {
		return tf, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	if tf.level, err = trace.ParseLevel(level); err != nil {
		return tf, err
	}
	// --trace alone means phase tracing
	if tf.level == trace.LevelOff && tf.output != "" {
		tf.level = trace.LevelPhase
	}
	switch mode {
	case "stream":
		tf.stream, tf.ring = true, 0
	case "ring":
	case "both":
		tf.stream = true
	default:
		return tf, fmt.Errorf("invalid trace mode %q (want stream|ring|both)", mode)
	}
	if tf.format, err = trace.ParseFormat(format); err != nil {
		return tf, err
	}
	if tf.format == trace.FormatAuto {
		tf.format = trace.FormatFor(tf.output)
	}
	return tf, nil
}

func openTraceOutput(path string) (io.Writer, error) {
	if path == "" || path == "-" {
		return os.Stderr, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace output: %w", err)
	}
	return f, nil
}

// setupTracing attaches the tracer the flags describe to the command
// context and returns the function that flushes and closes it.
func setupTracing(cmd *cobra.Command) (func(), error) {
	tf, err := readTraceFlags(cmd)
	if err != nil {
		return nil, err
	}
	if tf.level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, nil
	}

	opts := trace.Options{Level: tf.level, Format: tf.format, Ring: tf.ring}
	if tf.stream {
		if opts.Stream, err = openTraceOutput(tf.output); err != nil {
			return nil, err
		}
	}
	tracer := trace.Open(opts)
	ringTracer, _ = trace.RingOf(tracer)

	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)
	cmd.Root().SetContext(ctx)
	heartbeat := trace.StartHeartbeat(tracer, tf.heartbeat)

	return func() {
		heartbeat.Stop()
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: %v\n", err)
		}
	}, nil
}

// dumpTraceOnPanic writes the ring tracer's events to stderr and re-panics.
func dumpTraceOnPanic() {
	r := recover()
	if r == nil {
		return
	}
	if ringTracer != nil {
		fmt.Fprintln(os.Stderr, "trace: last events before panic:")
		_ = ringTracer.Dump(os.Stderr, trace.FormatText)
	}
	panic(r)
}
