package main

import (
	"os"

	"github.com/yhwhpe/response-orchestrator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
