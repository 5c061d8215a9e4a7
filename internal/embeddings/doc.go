// Package embeddings turns chunk and query text into vectors.
//
// Providers: "hash" (deterministic feature hashing, no model), "azure" and
// "openai" (langchaingo), and "fastembed" (local ONNX models, cgo builds
// only). NewProvider wraps the selected provider with OpenTelemetry metrics
// and spans.
package embeddings
