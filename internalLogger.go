package forward

import (
	"log"
	"os"
	"sync/atomic"
)

var internalLogger atomic.Value

func init() {
	internalLogger.Store(log.New(os.Stderr, "[forward] ", log.LstdFlags))
}

// InternalLogger returns the Logger used to write out internal logs, where
// logs get written when something goes wrong in the forwarding stack
// itself.
func InternalLogger() *log.Logger { return internalLogger.Load().(*log.Logger) }

// SetInternalLogger makes l the internal logger used for debug output and
// swallowed lifecycle errors.
func SetInternalLogger(l *log.Logger) {
	internalLogger.Store(l)
}
