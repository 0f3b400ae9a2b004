// Package main provides the exaudi operator CLI.
//
// Usage:
//
//	exaudictl [flags] <command> [args]
//
// Commands:
//
//	voices   - Inspect the voice catalog and resolve voice selections
//	route    - Explain synthesis routing decisions
//	defaults - Manage per-organization voice defaults
//	catalog  - Validate voice catalog files
//	sessions - Inspect live sessions on a running exaudid
//	usage    - Read recorded billing usage events
package main

import (
	"fmt"
	"os"

	"github.com/exaudilabs/exaudi-core/cmd/exaudictl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
