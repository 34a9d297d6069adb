package logger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// TestLogger captures log output for assertions in tests
type TestLogger struct {
	mu       sync.Mutex
	messages []LogMessage
	fields   map[string]interface{}
	err      error
}

// LogMessage is a single captured log entry
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

// NewTestLogger creates a logger that records messages instead of
// writing them
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (t *TestLogger) log(level, msg string, extra map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fields := make(map[string]interface{}, len(t.fields)+len(extra))
	for k, v := range t.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}

	t.messages = append(t.messages, LogMessage{
		Level:   level,
		Message: msg,
		Fields:  fields,
		Error:   t.err,
	})
}

func (t *TestLogger) Debug(msg string) { t.log("debug", msg, nil) }
func (t *TestLogger) Info(msg string)  { t.log("info", msg, nil) }
func (t *TestLogger) Warn(msg string)  { t.log("warn", msg, nil) }
func (t *TestLogger) Error(msg string) { t.log("error", msg, nil) }
func (t *TestLogger) Fatal(msg string) { t.log("fatal", msg, nil) }

// WithField returns a derived logger that records into the same buffer
func (t *TestLogger) WithField(key string, value interface{}) Logger {
	return t.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a derived logger that records into the same buffer
func (t *TestLogger) WithFields(fields map[string]interface{}) Logger {
	t.mu.Lock()
	defer t.mu.Unlock()

	merged := make(map[string]interface{}, len(t.fields)+len(fields))
	for k, v := range t.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &derivedTestLogger{parent: t, fields: merged, err: t.err}
}

// WithError returns a derived logger carrying the error
func (t *TestLogger) WithError(err error) Logger {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &derivedTestLogger{parent: t, fields: t.fields, err: err}
}

// WithContext is a no-op for the test logger
func (t *TestLogger) WithContext(ctx context.Context) Logger { return t }

func (t *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	t.log("debug", msg, fields)
}

func (t *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	t.log("info", msg, fields)
}

func (t *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	t.log("warn", msg, fields)
}

func (t *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	t.log("error", msg, fields)
}

func (t *TestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	t.log("fatal", msg, fields)
}

// GetZerolog returns a no-op zerolog instance
func (t *TestLogger) GetZerolog() *zerolog.Logger { return &nopZerolog }

// GetMessages returns a copy of all captured messages
func (t *TestLogger) GetMessages() []LogMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]LogMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// GetMessagesByLevel returns captured messages at the given level
func (t *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []LogMessage
	for _, m := range t.messages {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}

// HasMessage reports whether any captured message contains the substring
func (t *TestLogger) HasMessage(substr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.messages {
		if strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

// HasError reports whether any captured message carried an error
func (t *TestLogger) HasError() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.messages {
		if m.Error != nil || m.Level == "error" || m.Level == "fatal" {
			return true
		}
	}
	return false
}

// Clear discards all captured messages
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}

// String renders the captured messages for debugging failed tests
func (t *TestLogger) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for _, m := range t.messages {
		fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(m.Level), m.Message)
		if m.Error != nil {
			fmt.Fprintf(&b, " error=%v", m.Error)
		}
		for k, v := range m.Fields {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// derivedTestLogger carries extra fields or an error while recording
// into the parent's buffer
type derivedTestLogger struct {
	parent *TestLogger
	fields map[string]interface{}
	err    error
}

func (d *derivedTestLogger) log(level, msg string, extra map[string]interface{}) {
	d.parent.mu.Lock()
	defer d.parent.mu.Unlock()

	fields := make(map[string]interface{}, len(d.fields)+len(extra))
	for k, v := range d.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}

	d.parent.messages = append(d.parent.messages, LogMessage{
		Level:   level,
		Message: msg,
		Fields:  fields,
		Error:   d.err,
	})
}

func (d *derivedTestLogger) Debug(msg string) { d.log("debug", msg, nil) }
func (d *derivedTestLogger) Info(msg string)  { d.log("info", msg, nil) }
func (d *derivedTestLogger) Warn(msg string)  { d.log("warn", msg, nil) }
func (d *derivedTestLogger) Error(msg string) { d.log("error", msg, nil) }
func (d *derivedTestLogger) Fatal(msg string) { d.log("fatal", msg, nil) }

func (d *derivedTestLogger) WithField(key string, value interface{}) Logger {
	return d.WithFields(map[string]interface{}{key: value})
}

func (d *derivedTestLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(d.fields)+len(fields))
	for k, v := range d.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &derivedTestLogger{parent: d.parent, fields: merged, err: d.err}
}

func (d *derivedTestLogger) WithError(err error) Logger {
	return &derivedTestLogger{parent: d.parent, fields: d.fields, err: err}
}

func (d *derivedTestLogger) WithContext(ctx context.Context) Logger { return d }

func (d *derivedTestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	d.log("debug", msg, fields)
}

func (d *derivedTestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	d.log("info", msg, fields)
}

func (d *derivedTestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	d.log("warn", msg, fields)
}

func (d *derivedTestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	d.log("error", msg, fields)
}

func (d *derivedTestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	d.log("fatal", msg, fields)
}

func (d *derivedTestLogger) GetZerolog() *zerolog.Logger { return &nopZerolog }
