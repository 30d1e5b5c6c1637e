// Mirror: discovery conversation MCP server
//
// Runs a four-phase discovery conversation (scenario, excavation,
// synthesis, contract) for any MCP-capable AI client. The engine decides
// when the conversation may move on; the client's model does the talking.
//
// Usage:
//
//	mirror serve          # Start MCP server (stdio transport)
//	mirror http           # Start MCP + JSON API over HTTP
//	mirror config init    # Write ~/.mirror/mirror.toml with defaults
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is normal; the environment alone is enough.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
