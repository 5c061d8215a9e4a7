package logging

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedaction_EntryFields(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	logger.Info(context.Background(), "calling model",
		zap.String("api_key", "sk-very-secret"),
		zap.String("header", "Bearer abc.def"),
		zap.String("deployment", "gpt-4o"),
	)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "[REDACTED]:pattern", lines[0]["header"])
	assert.Equal(t, "gpt-4o", lines[0]["deployment"])
	assert.NotContains(t, buf.String(), "sk-very-secret")
}

func TestRedaction_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	logger.With(zap.String("token", "t0ps3cret")).Info(context.Background(), "child")

	assert.NotContains(t, buf.String(), "t0ps3cret")
	assert.Contains(t, buf.String(), "[REDACTED]")
}

func TestRedaction_Disabled(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Redaction.Enabled = false })

	logger.Info(context.Background(), "raw", zap.String("token", "visible"))
	assert.Contains(t, buf.String(), "visible")
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("abcd"))
	assert.Equal(t, "[REDACTED:4]", f.String)
}

func TestNewRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	require.Error(t, err)
}
