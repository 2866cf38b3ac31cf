// Package subprocess owns the backend MCP server process.
//
// A Process is started with its stdin and stdout connected to pipes held by the
// bridge and its stderr passed through to the bridge's own stderr. Exchange
// writes exactly one newline-terminated JSON line to the backend and reads
// exactly one line back. Process is not safe for concurrent Exchange calls;
// callers serialize access (see the gate package).
//
// Terminate kills and reaps the backend. It is idempotent and must run on
// every exit path of the owner.
package subprocess
