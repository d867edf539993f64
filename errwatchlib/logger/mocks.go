package logger

import (
	"io"

	. "github.com/onsi/ginkgo/v2"
)

func MockLogger() *Logger {
	if logger, err := New(&Config{ConsoleWriters: []io.Writer{GinkgoWriter}}); err == nil {
		return logger
	}
	return nil
}

// MockLoggerTo logs raw JSON lines to w so tests can inspect what was logged
func MockLoggerTo(w io.Writer) *Logger {
	if logger, err := New(&Config{Writers: []io.Writer{w}}); err == nil {
		return logger
	}
	return nil
}
