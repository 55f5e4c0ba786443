package main

import (
	"os"

	"github.com/jamesturk/bobsled/cmd/bobsled/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
