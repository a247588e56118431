// Command reflow compiles annotated SQL projects and manages their
// reactive SQLite databases.
package main

import (
	"os"

	"github.com/reflowdb/reflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
