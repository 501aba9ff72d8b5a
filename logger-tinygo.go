//go:build tinygo

package dw1000

import (
	"machine"
)

func init() {
	globalLogger = serialLogger{}
}

// serialLogger writes straight to machine.Serial, skipping fmt.
type serialLogger struct{}

func (serialLogger) log(level, msg string) {
	machine.Serial.Write([]byte(level))
	machine.Serial.Write([]byte(msg))
	machine.Serial.Write([]byte("\r\n"))
}

func (l serialLogger) Debug(msg string) { l.log("[DEBUG] ", msg) }
func (l serialLogger) Info(msg string)  { l.log("[INFO]  ", msg) }
func (l serialLogger) Warn(msg string)  { l.log("[WARN]  ", msg) }
func (l serialLogger) Error(msg string) { l.log("[ERROR] ", msg) }
