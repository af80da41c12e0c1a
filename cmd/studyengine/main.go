// Command studyengine is the operator CLI and HTTP server entry point
// for the adaptive study engine.
package main

import (
	"os"

	"github.com/studyengine/core/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
