package main

import (
	"os"

	"github.com/alpacahq/journald/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
