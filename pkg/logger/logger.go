package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"
)

type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
	LevelError LogLevel = "ERROR"
)

type LogFields map[string]interface{}

type Logger interface {
	WithFields(fields LogFields) Logger

	Info(action, message string)
	Debug(action, message string)
	Error(action string, err error)
}

// jsonLogger writes one JSON object per line to its output.
type jsonLogger struct {
	mu         sync.Mutex // Ensures concurrent writes are safe
	out        *os.File
	service    string
	hostname   string
	baseFields LogFields
}

// logEntry is the wire format of a log line. Well-known correlation ids
// (trip_id, booking_id, driver_id, request_id) are promoted to top-level
// keys so log pipelines can index them without digging into fields.
type logEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Service   string   `json:"service"`
	Action    string   `json:"action"`
	Message   string   `json:"message"`
	Hostname  string   `json:"hostname"`
	RequestID string   `json:"request_id,omitempty"`
	TripID    string   `json:"trip_id,omitempty"`
	BookingID string   `json:"booking_id,omitempty"`
	DriverID  string   `json:"driver_id,omitempty"`

	Error *errorEntry `json:"error,omitempty"`

	Fields LogFields `json:"fields,omitempty"`
}

type errorEntry struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack,omitempty"`
}

// NewLogger creates a structured JSON logger for the named service.
func NewLogger(serviceName string) Logger {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &jsonLogger{
		out:        os.Stdout,
		service:    serviceName,
		hostname:   host,
		baseFields: make(LogFields),
	}
}

// WithFields returns a child logger carrying the merged field set.
func (l *jsonLogger) WithFields(fields LogFields) Logger {
	merged := make(LogFields, len(l.baseFields)+len(fields))
	for k, v := range l.baseFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &jsonLogger{
		out:        l.out,
		service:    l.service,
		hostname:   l.hostname,
		baseFields: merged,
	}
}

func (l *jsonLogger) Info(action, message string) {
	l.log(LevelInfo, action, message, nil)
}

func (l *jsonLogger) Debug(action, message string) {
	l.log(LevelDebug, action, message, nil)
}

// Error logs an error together with a stack trace.
func (l *jsonLogger) Error(action string, err error) {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	l.log(LevelError, action, err.Error(), &errorEntry{
		Msg:   err.Error(),
		Stack: string(buf[:n]),
	})
}

func (l *jsonLogger) log(level LogLevel, action, message string, errData *errorEntry) {
	entry := &logEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Service:   l.service,
		Action:    action,
		Message:   message,
		Hostname:  l.hostname,
		Error:     errData,
		Fields:    make(LogFields),
	}

	for k, v := range l.baseFields {
		s, isString := v.(string)
		switch {
		case k == "trip_id" && isString:
			entry.TripID = s
		case k == "booking_id" && isString:
			entry.BookingID = s
		case k == "driver_id" && isString:
			entry.DriverID = s
		case k == "request_id" && isString:
			entry.RequestID = s
		default:
			entry.Fields[k] = v
		}
	}
	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(line))
}
