package main

import (
	"fmt"
	"runtime"

	"github.com/riftline/axonconnect/cmd"
)

func main() {
	cmd.Execute()
}

func init() {
	// Enable block profiling for performance analysis of the reconnect
	// supervisor and dispatch loop goroutines.
	runtime.SetBlockProfileRate(1)

	fmt.Println("axonconnect reference client")
	fmt.Println("=============================")
}
