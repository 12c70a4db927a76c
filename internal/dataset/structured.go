package dataset

import "fmt"

// Structured is an extent-addressed dataset. Geometry depends on the kind:
// image data uses Origin and Spacing, rectilinear grids use per-axis
// coordinates, structured and explicit structured grids store every point.
type Structured struct {
	kind        Kind
	Extent      Extent
	WholeExtent Extent

	Origin  [3]float64
	Spacing [3]float64
	Coords  [3][]float64
	Points  [][3]float64

	cells   *Attributes
	points  *Attributes
	version uint64
}

func newStructured(kind Kind, extent, whole Extent) *Structured {
	return &Structured{
		kind:        kind,
		Extent:      extent,
		WholeExtent: whole,
		Spacing:     [3]float64{1, 1, 1},
		cells:       NewAttributes(),
		points:      NewAttributes(),
		version:     nextMeshVersion(),
	}
}

func NewImage(extent, whole Extent, origin, spacing [3]float64) *Structured {
	s := newStructured(KindImage, extent, whole)
	s.Origin = origin
	s.Spacing = spacing
	return s
}

// NewRectilinear takes one coordinate slice per axis covering extent.
func NewRectilinear(extent, whole Extent, coords [3][]float64) (*Structured, error) {
	d := extent.PointDims()
	for a := 0; a < 3; a++ {
		if len(coords[a]) != d[a] {
			return nil, fmt.Errorf("dataset: axis %d has %d coordinates, extent needs %d", a, len(coords[a]), d[a])
		}
	}
	s := newStructured(KindRectilinear, extent, whole)
	s.Coords = coords
	return s, nil
}

func NewStructuredGrid(extent, whole Extent, points [][3]float64) (*Structured, error) {
	return newPointGrid(KindStructured, extent, whole, points)
}

func NewExplicitStructured(extent, whole Extent, points [][3]float64) (*Structured, error) {
	return newPointGrid(KindExplicitStructured, extent, whole, points)
}

func newPointGrid(kind Kind, extent, whole Extent, points [][3]float64) (*Structured, error) {
	if len(points) != extent.Count() {
		return nil, fmt.Errorf("dataset: %s has %d points, extent needs %d", kind, len(points), extent.Count())
	}
	s := newStructured(kind, extent, whole)
	s.Points = points
	return s, nil
}

func (s *Structured) Kind() Kind { return s.kind }
func (s *Structured) CellData() *Attributes { return s.cells }
func (s *Structured) PointData() *Attributes { return s.points }
func (s *Structured) NumberOfCells() int { return s.Extent.CellExtent().Count() }
func (s *Structured) NumberOfPoints() int { return s.Extent.Count() }
func (s *Structured) MeshVersion() uint64 { return s.version }
func (s *Structured) MeshModified() { s.version = nextMeshVersion() }

// PointAt returns the position of point i,j,k, which must lie in Extent.
func (s *Structured) PointAt(i, j, k int) [3]float64 {
	switch s.kind {
	case KindImage:
		return [3]float64{
			s.Origin[0] + float64(i)*s.Spacing[0],
			s.Origin[1] + float64(j)*s.Spacing[1],
			s.Origin[2] + float64(k)*s.Spacing[2],
		}
	case KindRectilinear:
		return [3]float64{
			s.Coords[0][i-s.Extent[0]],
			s.Coords[1][j-s.Extent[2]],
			s.Coords[2][k-s.Extent[4]],
		}
	default:
		return s.Points[s.Extent.Index(i, j, k)]
	}
}

func (s *Structured) ShallowCopy() Object {
	out := *s
	out.cells = s.cells.ShallowCopy()
	out.points = s.points.ShallowCopy()
	return &out
}

func (s *Structured) DeepCopy() Object {
	out := *s
	out.cells = s.cells.Clone()
	out.points = s.points.Clone()
	for a := 0; a < 3; a++ {
		out.Coords[a] = append([]float64(nil), s.Coords[a]...)
	}
	out.Points = append([][3]float64(nil), s.Points...)
	return &out
}

// Regrown returns a copy of s laid out over extent, which must contain
// s.Extent. Attribute tables keep their arrays and roles. Tuples and
// geometry inside s.Extent are copied; everything else starts at zero.
func (s *Structured) Regrown(extent Extent) *Structured {
	out := newStructured(s.kind, extent, s.WholeExtent)
	out.Origin = s.Origin
	out.Spacing = s.Spacing
	out.cells = s.cells.CopyStructure()
	out.cells.Resize(extent.CellExtent().Count())
	out.points = s.points.CopyStructure()
	out.points.Resize(extent.Count())

	switch s.kind {
	case KindRectilinear:
		d := extent.PointDims()
		for a := 0; a < 3; a++ {
			out.Coords[a] = make([]float64, d[a])
			copy(out.Coords[a][s.Extent[2*a]-extent[2*a]:], s.Coords[a])
		}
	case KindStructured, KindExplicitStructured:
		out.Points = make([][3]float64, extent.Count())
	}

	ownCells, grownCells := s.Extent.CellExtent(), extent.CellExtent()
	ownCells.Each(func(i, j, k int) {
		copyTuples(out.cells, grownCells.Index(i, j, k), s.cells, ownCells.Index(i, j, k))
	})
	s.Extent.Each(func(i, j, k int) {
		dst, src := extent.Index(i, j, k), s.Extent.Index(i, j, k)
		copyTuples(out.points, dst, s.points, src)
		if out.Points != nil {
			out.Points[dst] = s.Points[src]
		}
	})
	return out
}

// copyTuples copies tuple src of every array in from into tuple dst of the
// matching array in to. Both tables must share a structure.
func copyTuples(to *Attributes, dst int, from *Attributes, src int) {
	for i, arr := range from.arrays {
		to.arrays[i].SetTuple(dst, arr.Tuple(src))
	}
}
