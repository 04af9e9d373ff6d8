package main

import (
	"os"

	"github.com/fastlog-io/fastlog/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
