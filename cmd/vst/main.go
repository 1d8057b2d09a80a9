package main

import (
	"os"

	"github.com/variantstore/variantstore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
