package dataset

// Extent is an inclusive point index range: imin, imax, jmin, jmax, kmin, kmax.
type Extent [6]int

func (e Extent) Valid() bool {
	return e[0] <= e[1] && e[2] <= e[3] && e[4] <= e[5]
}

// PointDims returns the number of points along each axis.
func (e Extent) PointDims() [3]int {
	return [3]int{e[1] - e[0] + 1, e[3] - e[2] + 1, e[5] - e[4] + 1}
}

// CellExtent returns the inclusive cell index range. A flat axis keeps a
// single cell layer at its point index.
func (e Extent) CellExtent() Extent {
	var out Extent
	for a := 0; a < 3; a++ {
		lo, hi := e[2*a], e[2*a+1]
		if hi > lo {
			hi--
		}
		out[2*a], out[2*a+1] = lo, hi
	}
	return out
}

func (e Extent) CellDims() [3]int {
	return e.CellExtent().PointDims()
}

// Count returns the number of index triples in the extent.
func (e Extent) Count() int {
	if !e.Valid() {
		return 0
	}
	d := e.PointDims()
	return d[0] * d[1] * d[2]
}

func (e Extent) Contains(i, j, k int) bool {
	return i >= e[0] && i <= e[1] && j >= e[2] && j <= e[3] && k >= e[4] && k <= e[5]
}

// Index returns the linear offset of i,j,k inside e, i fastest.
func (e Extent) Index(i, j, k int) int {
	d := e.PointDims()
	return (i - e[0]) + d[0]*((j-e[2])+d[1]*(k-e[4]))
}

// IJK is the inverse of Index.
func (e Extent) IJK(idx int) (int, int, int) {
	d := e.PointDims()
	i := idx % d[0]
	idx /= d[0]
	j := idx % d[1]
	k := idx / d[1]
	return i + e[0], j + e[2], k + e[4]
}

// Grow widens every non-flat axis by n on both sides, clipped to bounds.
func (e Extent) Grow(n int, bounds Extent) Extent {
	out := e
	for a := 0; a < 3; a++ {
		if bounds[2*a] == bounds[2*a+1] {
			continue
		}
		out[2*a] = max(e[2*a]-n, bounds[2*a])
		out[2*a+1] = min(e[2*a+1]+n, bounds[2*a+1])
	}
	return out
}

// Each calls fn for every index triple in e, i fastest.
func (e Extent) Each(fn func(i, j, k int)) {
	if !e.Valid() {
		return
	}
	for k := e[4]; k <= e[5]; k++ {
		for j := e[2]; j <= e[3]; j++ {
			for i := e[0]; i <= e[1]; i++ {
				fn(i, j, k)
			}
		}
	}
}
