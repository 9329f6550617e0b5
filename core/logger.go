package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel controls the minimum severity emitted by the production logger.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLogLevel converts a level name into a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// ProductionLogger writes one JSON object per line. It is safe for
// concurrent use by multiple goroutines.
type ProductionLogger struct {
	component string
	level     LogLevel
	out       io.Writer
	mu        sync.Mutex
}

// NewProductionLogger creates a JSON logger for the named component.
func NewProductionLogger(component string, level LogLevel) *ProductionLogger {
	return &ProductionLogger{
		component: component,
		level:     level,
		out:       os.Stdout,
	}
}

// NewProductionLoggerWithOutput creates a JSON logger writing to out.
// Used by tests to capture log lines.
func NewProductionLoggerWithOutput(component string, level LogLevel, out io.Writer) *ProductionLogger {
	return &ProductionLogger{
		component: component,
		level:     level,
		out:       out,
	}
}

// WithComponent returns a logger that attributes entries to the given component.
func (l *ProductionLogger) WithComponent(component string) *ProductionLogger {
	return &ProductionLogger{
		component: component,
		level:     l.level,
		out:       l.out,
	}
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log(InfoLevel, "info", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, "error", msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(WarnLevel, "warn", msg, fields)
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(DebugLevel, "debug", msg, fields)
}

func (l *ProductionLogger) log(level LogLevel, levelName, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		entry[k] = sanitizeField(v)
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = levelName
	entry["component"] = l.component
	entry["message"] = msg

	line, err := json.Marshal(entry)
	if err != nil {
		// Marshal failures fall back to a plain line rather than dropping the event
		line = []byte(fmt.Sprintf(`{"level":%q,"component":%q,"message":%q}`, levelName, l.component, msg))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(line, '\n'))
}

// sanitizeField coerces values json.Marshal cannot handle into strings.
func sanitizeField(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		return val.Error()
	case time.Duration:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}
