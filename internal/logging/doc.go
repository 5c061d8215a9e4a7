// Package logging provides structured logging for docqa.
//
// The package wraps Zap with:
//   - a Trace level (-2, below Debug) for per-chunk scores and raw model output
//   - stdout output plus an optional OpenTelemetry log bridge
//   - correlation fields taken from the context (trace_id, request.id, document.id)
//   - field-name and pattern based secret redaction
//   - level-aware sampling (errors never sampled)
//
// Usage:
//
//	cfg, _ := logging.FromAppConfig(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRequestID(ctx, id)
//	logger.Info(ctx, "query answered", zap.Float64("confidence", a.Confidence))
//
// Tests capture output with NewCapture.
package logging
