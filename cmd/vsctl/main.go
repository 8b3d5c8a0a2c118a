// Command vsctl builds, inspects and queries visual search indexes from the
// command line.
//
// Usage:
//
//	vsctl [flags] <command> [args]
//
// Commands:
//
//	build   - Build the index of a corpus file into the artifact store
//	query   - Query the stored index with descriptors or a document id
//	inspect - Show the latest stored build of a corpus
//	import  - Copy a corpus file into Postgres and announce the change
package main

import (
	"fmt"
	"os"

	"github.com/Adithya-Monish-Kumar-K/visual-search/cmd/vsctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
