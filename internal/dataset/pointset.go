package dataset

import "fmt"

// PointSet is a dataset of explicit points and cells given as point index
// lists. Unstructured grids and polygonal data share this layout.
type PointSet struct {
	kind   Kind
	Points [][3]float64
	Cells  [][]int

	cells   *Attributes
	points  *Attributes
	version uint64
}

func NewUnstructured(points [][3]float64, cells [][]int) (*PointSet, error) {
	return newPointSet(KindUnstructured, points, cells)
}

func NewPolygonal(points [][3]float64, cells [][]int) (*PointSet, error) {
	return newPointSet(KindPolygonal, points, cells)
}

func newPointSet(kind Kind, points [][3]float64, cells [][]int) (*PointSet, error) {
	for c, ids := range cells {
		for _, id := range ids {
			if id < 0 || id >= len(points) {
				return nil, fmt.Errorf("dataset: cell %d references point %d of %d", c, id, len(points))
			}
		}
	}
	return &PointSet{
		kind:    kind,
		Points:  points,
		Cells:   cells,
		cells:   NewAttributes(),
		points:  NewAttributes(),
		version: nextMeshVersion(),
	}, nil
}

func (p *PointSet) Kind() Kind { return p.kind }
func (p *PointSet) CellData() *Attributes { return p.cells }
func (p *PointSet) PointData() *Attributes { return p.points }
func (p *PointSet) NumberOfCells() int { return len(p.Cells) }
func (p *PointSet) NumberOfPoints() int { return len(p.Points) }
func (p *PointSet) MeshVersion() uint64 { return p.version }
func (p *PointSet) MeshModified() { p.version = nextMeshVersion() }

func (p *PointSet) ShallowCopy() Object {
	out := *p
	out.cells = p.cells.ShallowCopy()
	out.points = p.points.ShallowCopy()
	return &out
}

func (p *PointSet) DeepCopy() Object {
	out := *p
	out.Points = append([][3]float64(nil), p.Points...)
	out.Cells = make([][]int, len(p.Cells))
	for i, ids := range p.Cells {
		out.Cells[i] = append([]int(nil), ids...)
	}
	out.cells = p.cells.Clone()
	out.points = p.points.Clone()
	return &out
}
