package main

import (
	"fmt"
	"os"

	"github.com/jasonchiu/cloudhelper/core/config"
	"github.com/jasonchiu/cloudhelper/feature/cli"
)

func main() {
	config.LoadDotenvIfPresent()
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cloudhelper: %v\n", err)
		os.Exit(1)
	}
}
