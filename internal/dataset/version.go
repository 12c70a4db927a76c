package dataset

import "sync/atomic"

var meshClock atomic.Uint64

// nextMeshVersion hands out process-unique mesh versions.
func nextMeshVersion() uint64 {
	return meshClock.Add(1)
}

// MeshVersioned is implemented by datasets whose geometry carries a version
// that changes whenever points or connectivity change.
type MeshVersioned interface {
	MeshVersion() uint64
	MeshModified()
}
