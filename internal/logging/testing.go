package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Capture is a Logger that keeps every entry in memory for tests to inspect.
type Capture struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewCapture returns a Capture that records all levels, trace included.
func NewCapture() *Capture {
	core, logs := observer.New(TraceLevel)
	return &Capture{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

// Entries returns the entries whose message contains snippet.
func (c *Capture) Entries(snippet string) []observer.LoggedEntry {
	return c.logs.FilterMessageSnippet(snippet).All()
}

// Logged reports whether an entry at level with a message containing
// snippet was written.
func (c *Capture) Logged(level zapcore.Level, snippet string) bool {
	for _, e := range c.logs.All() {
		if e.Level == level && strings.Contains(e.Message, snippet) {
			return true
		}
	}
	return false
}

// Field returns the value of key on the first entry matching snippet that
// carries it. Integers come back as int64.
func (c *Capture) Field(snippet, key string) (any, bool) {
	for _, e := range c.Entries(snippet) {
		if v, ok := e.ContextMap()[key]; ok {
			return v, true
		}
	}
	return nil, false
}
