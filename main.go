package main

import (
	"os"

	"github.com/Slowpuncher24/improving-mlhiphy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
