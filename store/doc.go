// Package store owns durability for memories and conversation turns.
//
// The durable store (gorm over sqlite, postgres or mysql) is the source of
// truth; the similarity index is a rebuildable projection. The Coordinator
// enforces write ordering between the two, and the Reconciler sweeps up
// rows the happy path left behind.
package store
