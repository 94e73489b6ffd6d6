package main

import (
	"os"

	"github.com/rustyeddy/pmtrader/cmd/pmtrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
