//go:build linux

// Command sandbox-init prepares an isolated process and execs the target program.
// It reads one JSON request from stdin. Setup failures are written to the
// original stderr and the process exits with status 1.
package main

import "codejudge/internal/judge/sandbox/initproc"

func main() {
	initproc.Main(initproc.Options{ApplySeccomp: applySeccomp})
}
