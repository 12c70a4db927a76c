// Package redistribute moves hyper trees between ranks so every rank ends up
// owning the slots its partition policy assigns to it.
//
// Ownership boundary:
//   - Redistributor drives the collective exchange for one grid per call.
//     Every rank of the communicator must call it with the same policy.
//   - Tree structure travels as breadth-first descriptors, padded to a byte
//     boundary per destination rank. Masks and cell arrays follow in the
//     same breadth-first visit order on both sides.
//   - Invalid input on any rank degrades every rank to a shallow copy; it is
//     never reported as an error.
//   - PairSubGroup and MoveToSubGroup collapse the forest onto a subset of
//     ranks.
package redistribute
