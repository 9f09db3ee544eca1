package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Zhima-Mochi/repoevents/internal/presentation/cli"
)

var version = "dev"

func main() {
	if err := cli.New(version).Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "repoevents:", err)
		os.Exit(1)
	}
}
