package dataset

// Well-known array names for the role arrays.
const (
	GhostArrayName      = "GhostType"
	GlobalIDsArrayName  = "GlobalIds"
	ProcessIDsArrayName = "ProcessIds"
)

// Ghost flag values stored in the ghost array.
const (
	GhostNone      = 0
	GhostDuplicate = 1
)

// Role marks arrays that carry bookkeeping rather than field values.
type Role int

const (
	RoleGhost Role = iota + 1
	RoleGlobalIDs
	RoleProcessIDs
)

// Attributes is an ordered table of named arrays for one element type
// (cells or points).
type Attributes struct {
	arrays []*Array
	roles  map[Role]string
}

func NewAttributes() *Attributes {
	return &Attributes{roles: map[Role]string{}}
}

// Add appends arr, replacing any array with the same name.
func (a *Attributes) Add(arr *Array) {
	for i, cur := range a.arrays {
		if cur.Name == arr.Name {
			a.arrays[i] = arr
			return
		}
	}
	a.arrays = append(a.arrays, arr)
}

func (a *Attributes) Get(name string) *Array {
	for _, arr := range a.arrays {
		if arr.Name == name {
			return arr
		}
	}
	return nil
}

func (a *Attributes) Remove(name string) {
	for i, arr := range a.arrays {
		if arr.Name == name {
			a.arrays = append(a.arrays[:i], a.arrays[i+1:]...)
			break
		}
	}
	for role, n := range a.roles {
		if n == name {
			delete(a.roles, role)
		}
	}
}

// Arrays returns every array in insertion order.
func (a *Attributes) Arrays() []*Array {
	return a.arrays
}

func (a *Attributes) Len() int {
	return len(a.arrays)
}

// SetRole adds arr and tags it with role.
func (a *Attributes) SetRole(role Role, arr *Array) {
	a.Add(arr)
	a.roles[role] = arr.Name
}

var roleNames = map[Role]string{
	RoleGhost:      GhostArrayName,
	RoleGlobalIDs:  GlobalIDsArrayName,
	RoleProcessIDs: ProcessIDsArrayName,
}

// ByRole returns the array tagged with role, falling back to the role's
// well-known name for arrays added without a tag.
func (a *Attributes) ByRole(role Role) *Array {
	if name, ok := a.roles[role]; ok {
		return a.Get(name)
	}
	return a.Get(roleNames[role])
}

func (a *Attributes) Ghosts() *Array { return a.ByRole(RoleGhost) }
func (a *Attributes) GlobalIDs() *Array { return a.ByRole(RoleGlobalIDs) }
func (a *Attributes) ProcessIDs() *Array { return a.ByRole(RoleProcessIDs) }

// FieldArrays returns the arrays that hold field values, skipping role arrays.
func (a *Attributes) FieldArrays() []*Array {
	out := make([]*Array, 0, len(a.arrays))
	for _, arr := range a.arrays {
		if !a.hasRole(arr.Name) {
			out = append(out, arr)
		}
	}
	return out
}

func (a *Attributes) hasRole(name string) bool {
	for _, n := range a.roles {
		if n == name {
			return true
		}
	}
	for _, n := range roleNames {
		if n == name {
			return true
		}
	}
	return false
}

// ShallowCopy returns a table sharing the same arrays.
func (a *Attributes) ShallowCopy() *Attributes {
	out := NewAttributes()
	out.arrays = append(out.arrays, a.arrays...)
	for role, name := range a.roles {
		out.roles[role] = name
	}
	return out
}

// Clone returns a deep copy.
func (a *Attributes) Clone() *Attributes {
	out := NewAttributes()
	for _, arr := range a.arrays {
		out.arrays = append(out.arrays, arr.Clone())
	}
	for role, name := range a.roles {
		out.roles[role] = name
	}
	return out
}

// CopyStructure returns a table with the same arrays and roles but no tuples.
func (a *Attributes) CopyStructure() *Attributes {
	out := NewAttributes()
	for _, arr := range a.arrays {
		out.arrays = append(out.arrays, arr.Empty())
	}
	for role, name := range a.roles {
		out.roles[role] = name
	}
	return out
}

// Resize resizes every array to tuples.
func (a *Attributes) Resize(tuples int) {
	for _, arr := range a.arrays {
		arr.Resize(tuples)
	}
}

// Components returns the summed component count of arrs.
func Components(arrs []*Array) int {
	total := 0
	for _, arr := range arrs {
		total += arr.Components
	}
	return total
}
