// Package htg implements the hyper tree grid forest: per-slot trees stored
// as node arenas, the shared cell attribute table, the optional cell mask,
// and the breadth-first descriptor codec used to ship tree structure.
//
// Ownership boundary:
// - Owns tree topology, global cell index assignment and traversal order.
// - Owns descriptor encode/decode over bitvec buffers.
// - Does not know about partitions or communicators.
package htg
