package ewos

import (
	"os"
	"os/signal"
	"syscall"
)

// ShutdownChan delivers SIGINT and SIGTERM. Call the returned stop function
// once the process no longer waits on it.
func ShutdownChan() (<-chan os.Signal, func()) {
	// buffered so a signal arriving before anyone receives is not lost
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	return c, func() { signal.Stop(c) }
}
