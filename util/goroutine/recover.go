// Package goroutine launches background goroutines that survive panics in their body.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// stackBufferSize bounds the captured stack trace
const stackBufferSize = 4096

// Recover logs a panic raised in the calling goroutine and swallows it. It must be
// deferred directly. With a nil logger the panic is written to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}
	report(name, r, logger)
}

// Go runs fn in a new goroutine, logging and swallowing any panic.
func Go(name string, logger *zap.SugaredLogger, fn func()) {
	go func() {
		defer Recover(name, logger)
		fn()
	}()
}

// Safe runs fn synchronously and converts a panic into an error.
func Safe(name string, logger *zap.SugaredLogger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			report(name, r, logger)
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn()
}

func report(name string, r interface{}, logger *zap.SugaredLogger) {
	buf := make([]byte, stackBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, string(buf[:n]))
}
