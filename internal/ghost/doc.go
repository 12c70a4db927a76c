// Package ghost builds and refreshes ghost (halo) cells for distributed
// datasets.
//
// Ownership boundary:
// - Owns the front-end that walks composite inputs, injects process and
//   global ids, and dispatches each leaf to the generator for its kind.
// - Owns the sync-only pass that refreshes existing ghost values from
//   their owners, and the static mesh cache for point-set inputs.
// - Owns the compact per-kind generators (extent-based and point-set).
// - Does not own hyper tree grids; those are reported and passed through.
//
// Every exported operation that takes a communicator is collective: all
// ranks must call it with the same options, even when they hold no data.
package ghost
