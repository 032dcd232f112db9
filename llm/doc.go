// Package llm is the engine's narrow window onto language models. The
// pipeline only ever needs one shape of call, a prompt in and a JSON
// document out, so the interface stays at that level and providers handle
// transport, rate limiting and retries underneath.
package llm
