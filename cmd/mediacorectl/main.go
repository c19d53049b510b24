// Command mediacorectl drives a mediacore Controller from the command
// line: open a file or realtime source, decode it, print live stats, and
// optionally remux it to disk, all through the same public API an embedding
// application would use.
package main

import (
	"os"

	"github.com/kestrelmedia/mediacore/cmd/mediacorectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
