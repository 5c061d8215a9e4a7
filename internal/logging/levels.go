package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Per-chunk scoring and raw model output are
// logged here.
const TraceLevel = zapcore.Level(-2)

// ParseLevel accepts the zap level names plus "trace" and "warning".
// Blank means info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return TraceLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	default:
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(n)); err != nil {
			return zapcore.InfoLevel, fmt.Errorf("unknown level %q (want trace, debug, info, warn or error)", name)
		}
		return l, nil
	}
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}
