package main

import (
	"os"

	"reviewherd/cmd/reviewherd/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
