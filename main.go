package main

import (
	"os"

	"github.com/NexoWatt/nexowatt-ems/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
