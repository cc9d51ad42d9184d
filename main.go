package main

import (
	"github.com/pagepilot-ai/pagepilot/cmd"
)

// main is the entry point for the PagePilot CLI. All command-line parsing,
// configuration and execution lives in the cmd package.
func main() {
	cmd.Execute()
}
