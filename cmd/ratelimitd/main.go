package main

import (
	"os"

	"github.com/pavankpdev/rate-limiting-implementation/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
