// Package main is the entrypoint for the Cerastes task service daemon.
package main

import "github.com/ArthurVigier/Cerastes-Public-API/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
