// Package telemetry provides OpenTelemetry instrumentation for docqa.
//
// Spans cover the query path (orchestrator phases, retrieval, model calls)
// and ingestion (extract, chunk, embed, index). Metrics are exported over
// OTLP (gRPC or HTTP) with cumulative temporality.
//
// Usage:
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, span := tel.Tracer("docqa/retrieval").Start(ctx, "retrieval.search")
//	defer span.End()
//
// When disabled, Tracer and Meter return the global no-op implementations.
// Tests use NewRecorder, which keeps spans and metrics in memory.
package telemetry
