package io

import (
	"fmt"
	"runtime"
)

// GetCallerFileContext returns "file:line" of the caller level frames above
// the function calling it.
func GetCallerFileContext(level int) (fileContext string) {
	_, file, line, _ := runtime.Caller(1 + level)
	return fmt.Sprintf("%s:%d", file, line)
}
