// Command pocketdb inspects and resets pocketdb snapshots. It reads the
// snapshot as stored, so it works without the Go types that produced it.
package main

import (
	"fmt"
	"os"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pocketdb:", err)
		exitFunc(1)
	}
}
