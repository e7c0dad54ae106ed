// fshare shares local folders over HTTP and moves files to and from peers
// running the same tool.
//
// Build with version information:
//
//	go build -ldflags "-X github.com/fshare/fshare/internal/version.Version=v1.2.0" ./cmd/fshare
package main

import (
	"os"

	"github.com/fshare/fshare/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
