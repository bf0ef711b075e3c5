package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kylegalloway/guardianeye/internal/cli"
)

var (
	version = "dev"
)

func main() {
	if err := cli.NewRoot(version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
