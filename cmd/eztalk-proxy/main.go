package main

import (
	"fmt"
	"os"

	"github.com/eztalk/eztalk-proxy/internal/command"
)

func main() {
	if err := command.Root().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
