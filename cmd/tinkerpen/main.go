// Command tinkerpen serves a multi-file HTML, CSS and JavaScript playground.
package main

import (
	"fmt"
	"os"

	"github.com/livetemplate/tinkerpen"
	"github.com/livetemplate/tinkerpen/cmd/tinkerpen/commands"
)

func main() {
	if err := commands.NewRootCommand(tinkerpen.Version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
