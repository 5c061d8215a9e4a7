// Package orchestrator runs the question answering pipeline.
//
// # Overview
//
// A request passes through three phases in a fixed order:
//
//	Analyze → Retrieve → Answer
//
// Each phase is executed by a PhaseHandler under its own deadline and may be
// retried once when it times out or fails transiently. After a phase
// completes, the gates registered for it check its output before the next
// phase runs. A gate that finds an error-level violation causes the phase
// output to be repaired: an invalid plan becomes the fallback plan,
// unresolvable evidence is dropped, and an ungrounded answer is replaced by a
// degraded one.
//
// # Timeouts
//
// Every phase call is bounded by the stage timeout and the whole request by
// the request timeout. When a deadline expires the executor stops waiting
// for the phase; the abandoned call keeps running and its result is
// discarded. The caller receives the partial Response (plan, diagnostics and
// phase results collected so far) with a degraded answer and an error
// wrapping ErrUpstreamTimeout.
//
// # Usage
//
//	exec := orchestrator.NewExecutor(orchestrator.FromConfig(cfg.Orchestrator, cfg.Retrieval), logger)
//	exec.RegisterHandler(orchestrator.NewAnalyzeHandler(analyzer))
//	exec.RegisterHandler(orchestrator.NewRetrieveHandler(retriever))
//	exec.RegisterHandler(orchestrator.NewAnswerHandler(answerer))
//	exec.RegisterDefaultGates(corpusStore)
//
//	resp, err := exec.Ask(ctx, "What is the termination clause?")
package orchestrator
