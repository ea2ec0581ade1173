//go:build windows

package signals

import "os"

// Termination lists the signals that should trigger a graceful shutdown.
// Windows primarily uses os.Interrupt (Ctrl+C).
var Termination = []os.Signal{os.Interrupt}
