// Package comm provides the collective primitives the distributed filters
// run on: all-gather, all-reduce and variable all-to-all.
//
// Ownership boundary:
// - Communicator contract and typed helpers over it.
// - In-process groups for tests and single-host runs.
// - The TCP rank mesh built on protocol/frame and protocol/tlv.
// - A process-wide default for callers that do not inject one.
//
// Every rank must enter the same collectives in the same order. A rank
// that skips one leaves its peers blocked.
package comm
