// Command bounty opens, funds and claims issue bounties from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/celution/bountyd/internal/cli"
	"github.com/celution/bountyd/internal/failures"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", failures.Message(err))
		os.Exit(1)
	}
}
