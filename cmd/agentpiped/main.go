// Agentpiped serves the multi-agent pipeline orchestrator: it runs pipelines
// of coding-agent steps through approval gates and handoffs, persisting all
// state in SQLite so pipelines survive process restarts.
package main

import (
	"os"
	"runtime/debug"

	"github.com/DavidSchwarz2/agentpipe/internal/cli"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
