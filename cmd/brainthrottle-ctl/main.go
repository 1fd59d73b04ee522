package main

import (
	"fmt"
	"os"
)

// ============================================================================
// brainthrottle-ctl - Command-line IPC Client
// ============================================================================
// Sends requests to the brainthrottle daemon over its Unix socket.
//
// Usage:
//   brainthrottle-ctl status
//   brainthrottle-ctl restore
//   brainthrottle-ctl scroll --dy 40
//
// Options:
//   --socket PATH    Unix domain socket path (default: /tmp/brainthrottle.sock)
// ============================================================================

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
