package wizard

import (
	"fmt"
	"runtime"
	"strings"
)

// panicStack returns the current goroutine stack, starting at the frame that
// panicked. Call it from a deferred recover.
func panicStack() []byte {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return cleanStackTrace(buf[:n])
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLine := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLine = i
			break
		}
	}

	// drop the panic( call and its file reference line
	if panicLine >= 0 && panicLine+2 < len(lines) {
		lines = lines[panicLine+2:]
	}
	return []byte(strings.Join(lines, "\n"))
}

// recoverAsError is deferred by callers that turn a panic into an error.
func recoverAsError(logger Logger, what string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error("%s panic: %v\n%s", what, r, panicStack())
	if err, ok := r.(error); ok {
		*errp = &panicError{what: what, value: r, cause: err}
		return
	}
	*errp = &panicError{what: what, value: r}
}

type panicError struct {
	what  string
	value any
	cause error
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%s panic: %v", e.what, e.value)
}

func (e *panicError) Unwrap() error { return e.cause }
