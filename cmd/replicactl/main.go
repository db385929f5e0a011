// Package main is the operator CLI: task control, bulk loads, resyncs and
// admin tokens.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "replicactl:", err)
		os.Exit(1)
	}
}
