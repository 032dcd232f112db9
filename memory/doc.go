// Package memory defines the core data model of the memory lifecycle
// engine: the Memory record, extraction candidates, conversation turns,
// content hashing, importance derivation, and the temporal decay model.
//
// The package is deliberately free of I/O. Storage, indexing, and caching
// live in their own packages and exchange these types.
package memory
