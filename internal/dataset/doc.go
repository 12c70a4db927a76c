// Package dataset defines the data objects moved and ghosted by the
// distributed filters.
//
// Ownership boundary:
// - Owns the sealed set of object kinds and the attribute tables (cell and
//   point arrays) shared by every concrete dataset.
// - Owns the extent-based and point-set datasets plus the partitioned and
//   collection composites.
// - Does not communicate; exchanges live in redistribute and ghost.
package dataset
