package ghost

// Options configures a Generator.
type Options struct {
	// NumberOfGhostLayers is the minimum layer count when BuildIfRequired
	// is off.
	NumberOfGhostLayers int
	// BuildIfRequired builds exactly the requested layers, even zero.
	BuildIfRequired bool
	// SynchronizeOnly refreshes existing ghosts instead of rebuilding them
	// when every rank's input carries the arrays needed to do so.
	SynchronizeOnly    bool
	GenerateProcessIDs bool
	GenerateGlobalIDs  bool
	// UseStaticMeshCache reuses the previous output mesh for point-set
	// inputs whose geometry has not changed.
	UseStaticMeshCache bool
}

func DefaultOptions() Options {
	return Options{
		NumberOfGhostLayers: 1,
		BuildIfRequired:     true,
	}
}

// Layers resolves how many ghost layers a pass builds for a downstream
// request.
func (o Options) Layers(requested int) int {
	requested = max(requested, 0)
	if o.BuildIfRequired {
		return requested
	}
	return max(requested, o.NumberOfGhostLayers)
}
