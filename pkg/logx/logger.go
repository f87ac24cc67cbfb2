package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with a key/value call style
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a JSON logger at the given level, tagged with a component name
func NewLogger(level, component string) *Logger {
	return NewLoggerWithOutput(level, component, os.Stderr)
}

// NewLoggerWithOutput is NewLogger writing to out
func NewLoggerWithOutput(level, component string, out io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "msg",
		},
	})
	base.SetLevel(parseLevel(level))

	entry := logrus.NewEntry(base)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return &Logger{entry: entry}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLevel changes the level at runtime
func (l *Logger) SetLevel(level string) {
	l.entry.Logger.SetLevel(parseLevel(level))
}

// With returns a child logger carrying an extra field
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// Trace logs at trace level
func (l *Logger) Trace(msg string, fields ...interface{}) {
	l.entry.WithFields(toFields(fields)).Trace(msg)
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.entry.WithFields(toFields(fields)).Debug(msg)
}

// Info logs at info level
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.entry.WithFields(toFields(fields)).Info(msg)
}

// Warn logs at warn level
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.entry.WithFields(toFields(fields)).Warn(msg)
}

// Error logs at error level
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.entry.WithFields(toFields(fields)).Error(msg)
}

// toFields accepts either alternating key/value pairs or a single map
func toFields(fields []interface{}) logrus.Fields {
	out := logrus.Fields{}
	if len(fields) == 1 {
		if m, ok := fields[0].(map[string]interface{}); ok {
			for k, v := range m {
				out[k] = v
			}
			return out
		}
	}

	for i := 0; i < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		if i+1 >= len(fields) {
			out[key] = "(MISSING)"
			break
		}
		value := fields[i+1]
		if err, ok := value.(error); ok && err != nil {
			value = err.Error()
		}
		out[key] = value
	}
	return out
}
