// Package main provides the entry point for tracesim.
// Tracesim is a trace-driven multi-level CPU cache hierarchy simulator.
//
// For the full CLI, use: go run ./cmd/tracesim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("Tracesim - Trace-Driven Cache Hierarchy Simulator")
	fmt.Println("")
	fmt.Println("Usage: tracesim [options] <trace-file>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -c, --config       Path to hierarchy configuration file (HuJSON)")
	fmt.Println("  -o, --output       Write the report to a file instead of stdout")
	fmt.Println("      --swap-endian  Byte-swap addr/time for big-endian traces")
	fmt.Println("      --seed         Seed for random replacement")
	fmt.Println("  -v, --verbose      Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/tracesim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/tracesim' instead.")
	}
}
