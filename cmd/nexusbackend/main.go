// Package main is the single-binary entrypoint for a backend node.
package main

import "github.com/tutu-network/tutu/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
