// Package main is the single-binary entrypoint for transferd.
package main

import "github.com/chiral/transferd/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
