package main

import (
	"os"

	"github.com/cortexltm/ltm/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
