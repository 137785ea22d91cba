//go:build !linux

package main

import "codejudge/internal/judge/sandbox/initproc"

func main() {
	initproc.Main(initproc.Options{})
}
