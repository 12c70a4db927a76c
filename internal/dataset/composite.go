package dataset

// Partitioned holds the pieces of one logical dataset owned by this rank.
type Partitioned struct {
	Partitions []Object
}

func NewPartitioned(parts ...Object) *Partitioned {
	return &Partitioned{Partitions: parts}
}

func (p *Partitioned) Kind() Kind { return KindPartitioned }

func (p *Partitioned) ShallowCopy() Object {
	out := &Partitioned{Partitions: make([]Object, len(p.Partitions))}
	for i, part := range p.Partitions {
		if part != nil {
			out.Partitions[i] = part.ShallowCopy()
		}
	}
	return out
}

func (p *Partitioned) DeepCopy() Object {
	out := &Partitioned{Partitions: make([]Object, len(p.Partitions))}
	for i, part := range p.Partitions {
		if part != nil {
			out.Partitions[i] = part.DeepCopy()
		}
	}
	return out
}

// Collection groups several partitioned datasets.
type Collection struct {
	Sets []*Partitioned
}

func NewCollection(sets ...*Partitioned) *Collection {
	return &Collection{Sets: sets}
}

func (c *Collection) Kind() Kind { return KindCollection }

func (c *Collection) ShallowCopy() Object {
	out := &Collection{Sets: make([]*Partitioned, len(c.Sets))}
	for i, set := range c.Sets {
		if set != nil {
			out.Sets[i] = set.ShallowCopy().(*Partitioned)
		}
	}
	return out
}

func (c *Collection) DeepCopy() Object {
	out := &Collection{Sets: make([]*Partitioned, len(c.Sets))}
	for i, set := range c.Sets {
		if set != nil {
			out.Sets[i] = set.DeepCopy().(*Partitioned)
		}
	}
	return out
}

// Leaves returns the concrete datasets of obj in traversal order. Nil
// partitions are skipped.
func Leaves(obj Object) []DataSet {
	var out []DataSet
	var walk func(Object)
	walk = func(o Object) {
		switch v := o.(type) {
		case nil:
		case *Collection:
			for _, set := range v.Sets {
				walk(set)
			}
		case *Partitioned:
			if v == nil {
				return
			}
			for _, part := range v.Partitions {
				walk(part)
			}
		case DataSet:
			out = append(out, v)
		}
	}
	walk(obj)
	return out
}

// SameShape reports whether a and b have the same composite layout and leaf
// kinds.
func SameShape(a, b Object) bool {
	switch av := a.(type) {
	case *Collection:
		bv, ok := b.(*Collection)
		if !ok || len(av.Sets) != len(bv.Sets) {
			return false
		}
		for i := range av.Sets {
			if !SameShape(av.Sets[i], bv.Sets[i]) {
				return false
			}
		}
		return true
	case *Partitioned:
		bv, ok := b.(*Partitioned)
		if !ok || av == nil || bv == nil {
			return ok && av == bv
		}
		if len(av.Partitions) != len(bv.Partitions) {
			return false
		}
		for i := range av.Partitions {
			if !SameShape(av.Partitions[i], bv.Partitions[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return b != nil && a.Kind() == b.Kind()
	}
}

// Rebuild returns a composite with the same layout as obj whose leaves are
// replaced by fn. Nil partitions stay nil.
func Rebuild(obj Object, fn func(DataSet) Object) Object {
	switch v := obj.(type) {
	case nil:
		return nil
	case *Collection:
		out := &Collection{Sets: make([]*Partitioned, len(v.Sets))}
		for i, set := range v.Sets {
			out.Sets[i] = Rebuild(set, fn).(*Partitioned)
		}
		return out
	case *Partitioned:
		if v == nil {
			return v
		}
		out := &Partitioned{Partitions: make([]Object, len(v.Partitions))}
		for i, part := range v.Partitions {
			out.Partitions[i] = Rebuild(part, fn)
		}
		return out
	case DataSet:
		return fn(v)
	default:
		return obj.ShallowCopy()
	}
}
