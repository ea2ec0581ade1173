//go:build !windows

package signals

import (
	"os"
	"syscall"
)

// Termination lists the signals that should trigger a graceful shutdown.
// SIGTERM is used by most process managers (systemd, container runtimes).
var Termination = []os.Signal{os.Interrupt, syscall.SIGTERM}
