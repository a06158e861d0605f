package main

import (
	"os"

	"github.com/hearthd/hearth/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
