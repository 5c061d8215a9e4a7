// Package mcp exposes document question answering over the Model Context
// Protocol.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// on the stdio transport and registers two tools: ask_documents runs the
// question pipeline and returns the grounded answer with its evidence, and
// ingest_document adds a local file to the corpus.
package mcp
