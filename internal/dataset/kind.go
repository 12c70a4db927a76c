package dataset

import "fmt"

// Kind is the closed set of data object kinds.
type Kind int

const (
	KindImage Kind = iota + 1
	KindRectilinear
	KindStructured
	KindExplicitStructured
	KindUnstructured
	KindPolygonal
	KindHyperTreeGrid
	KindPartitioned
	KindCollection
)

var kindNames = map[Kind]string{
	KindImage:              "image",
	KindRectilinear:        "rectilinear",
	KindStructured:         "structured",
	KindExplicitStructured: "explicit_structured",
	KindUnstructured:       "unstructured",
	KindPolygonal:          "polygonal",
	KindHyperTreeGrid:      "hyper_tree_grid",
	KindPartitioned:        "partitioned",
	KindCollection:         "collection",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) IsComposite() bool {
	return k == KindPartitioned || k == KindCollection
}

// IsExtentBased reports kinds addressed by an i,j,k extent.
func (k Kind) IsExtentBased() bool {
	switch k {
	case KindImage, KindRectilinear, KindStructured, KindExplicitStructured:
		return true
	}
	return false
}

// IsPointSet reports kinds made of explicit points and cell connectivity.
func (k Kind) IsPointSet() bool {
	return k == KindUnstructured || k == KindPolygonal
}

// Object is any data object that can flow through a filter.
type Object interface {
	Kind() Kind
	ShallowCopy() Object
	DeepCopy() Object
}

// DataSet is a concrete, non-composite object with cell and point attributes.
type DataSet interface {
	Object
	CellData() *Attributes
	PointData() *Attributes
	NumberOfCells() int
	NumberOfPoints() int
}
