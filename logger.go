package dw1000

// Logger is the logging interface of the driver. It takes plain strings
// rather than format arguments to keep TinyGo builds small and allocation
// free inside interrupt handlers.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

var globalLogger Logger = nopLogger{}

// SetLogger replaces the package logger. A nil logger silences the driver.
func SetLogger(l Logger) {
	if l == nil {
		globalLogger = nopLogger{}
		return
	}
	globalLogger = l
}

type nopLogger struct{}

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}
