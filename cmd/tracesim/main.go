// Package main provides the tracesim command: a trace-driven simulator
// for a configurable L1I/L1D/L2 cache hierarchy.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/fatih/color"
	"github.com/natefinch/atomic"
	"github.com/spf13/pflag"

	"github.com/sarchlab/tracesim/config"
	"github.com/sarchlab/tracesim/hierarchy"
	"github.com/sarchlab/tracesim/trace"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run drives a whole simulation and returns the process exit code. It
// is separated from main so tests can exercise the full command.
func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("tracesim", pflag.ContinueOnError)
	flags.SetOutput(stderr)

	configPath := flags.StringP("config", "c", "", "path to hierarchy configuration file (HuJSON)")
	outputPath := flags.StringP("output", "o", "", "write the report to this file instead of stdout")
	swapEndian := flags.Bool("swap-endian", false, "byte-swap addr and time fields (trace produced on a big-endian host)")
	seed := flags.Int64("seed", 0, "seed for random replacement (0 seeds from the clock)")
	verbose := flags.BoolP("verbose", "v", false, "verbose output")

	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tracesim [options] <trace-file>\n\nOptions:\n%s", flags.FlagUsages())
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}
	if flags.NArg() < 1 {
		flags.Usage()
		return 1
	}
	tracePath := flags.Arg(0)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 1
		}
	}

	var opts []hierarchy.Option
	if *seed != 0 {
		opts = append(opts, hierarchy.WithRand(rand.New(rand.NewSource(*seed))))
	}

	h, err := hierarchy.New(cfg, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	f, err := os.Open(tracePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening trace: %v\n", err)
		return 1
	}
	defer func() { _ = f.Close() }()

	var readerOpts []trace.ReaderOption
	if *swapEndian {
		readerOpts = append(readerOpts, trace.WithByteSwap())
	}
	reader := trace.NewReader(bufio.NewReader(f), readerOpts...)

	var processed, skipped uint64
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error reading trace: %v\n", err)
			return 1
		}

		switch rec.Type {
		case trace.Fetch:
			h.Fetch(rec.Addr)
		case trace.MemRead, trace.MemReadInv:
			h.Read(rec.Addr)
		case trace.MemWrite:
			h.Write(rec.Addr, 0)
		default:
			skipped++
			continue
		}
		processed++
	}

	if *verbose {
		color.New(color.FgGreen).Fprintf(stdout, "Processed %d records (%d skipped)\n", processed, skipped)
	}

	report := h.Report()

	if *outputPath != "" {
		var buf bytes.Buffer
		if err := report.WriteText(&buf); err != nil {
			fmt.Fprintf(stderr, "Error formatting report: %v\n", err)
			return 1
		}
		if err := atomic.WriteFile(*outputPath, &buf); err != nil {
			fmt.Fprintf(stderr, "Error writing report: %v\n", err)
			return 1
		}
		if *verbose {
			fmt.Fprintf(stdout, "Report written to %s\n", *outputPath)
		}
		return 0
	}

	color.New(color.Bold).Fprintln(stdout, "--- finished simulation ---")
	if *verbose {
		err = report.WriteVerboseText(stdout)
	} else {
		err = report.WriteText(stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error writing report: %v\n", err)
		return 1
	}

	return 0
}
