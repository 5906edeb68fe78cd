// Command kirokuctl inspects recorded run history without a running server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(openStore).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
