package dataset

import (
	"errors"
	"fmt"
)

var ErrComponentMismatch = errors.New("dataset: component count mismatch")

// Array stores tuples of float64 components contiguously.
type Array struct {
	Name       string
	Components int
	Data       []float64
}

func NewArray(name string, components, tuples int) *Array {
	if components < 1 {
		components = 1
	}
	return &Array{Name: name, Components: components, Data: make([]float64, components*tuples)}
}

// NewConstantArray returns a single-component array filled with v.
func NewConstantArray(name string, tuples int, v float64) *Array {
	a := NewArray(name, 1, tuples)
	for i := range a.Data {
		a.Data[i] = v
	}
	return a
}

func (a *Array) Tuples() int {
	if a == nil || a.Components == 0 {
		return 0
	}
	return len(a.Data) / a.Components
}

// Tuple returns a view of tuple i.
func (a *Array) Tuple(i int) []float64 {
	return a.Data[i*a.Components : (i+1)*a.Components]
}

func (a *Array) Value(i int) float64 {
	return a.Data[i*a.Components]
}

func (a *Array) SetValue(i int, v float64) {
	a.Data[i*a.Components] = v
}

func (a *Array) SetTuple(i int, tuple []float64) {
	copy(a.Data[i*a.Components:(i+1)*a.Components], tuple)
}

// CopyTuple copies tuple srcIdx of src into tuple dst of a.
func (a *Array) CopyTuple(dst int, src *Array, srcIdx int) error {
	if src.Components != a.Components {
		return fmt.Errorf("%w: %s has %d, %s has %d", ErrComponentMismatch, a.Name, a.Components, src.Name, src.Components)
	}
	a.SetTuple(dst, src.Tuple(srcIdx))
	return nil
}

// Resize keeps existing tuples and zero-fills new ones.
func (a *Array) Resize(tuples int) {
	n := tuples * a.Components
	if n <= cap(a.Data) {
		old := len(a.Data)
		a.Data = a.Data[:n]
		if n > old {
			clear(a.Data[old:])
		}
		return
	}
	next := make([]float64, n, max(n, 2*cap(a.Data)))
	copy(next, a.Data)
	a.Data = next
}

func (a *Array) Clone() *Array {
	out := &Array{Name: a.Name, Components: a.Components, Data: make([]float64, len(a.Data))}
	copy(out.Data, a.Data)
	return out
}

// Empty returns an array with the same name and components and no tuples.
func (a *Array) Empty() *Array {
	return &Array{Name: a.Name, Components: a.Components}
}

func (a *Array) Sum() float64 {
	total := 0.0
	for _, v := range a.Data {
		total += v
	}
	return total
}
