package ghost

import (
	"errors"
	"time"
)

const filterName = "ghost"

var (
	ErrUnsupportedKind = errors.New("ghost: dataset kind not supported")
	ErrMixedKinds      = errors.New("ghost: mixed dataset kinds, ghosts are only exchanged between matching kinds")
	ErrFieldMismatch   = errors.New("ghost: ranks disagree on transferable arrays")
	ErrMalformedReply  = errors.New("ghost: exchange payload does not match request")
)

// Mode names how a pass produced its ghosts.
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeSync     Mode = "sync"
	ModeCache    Mode = "cache"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one non-fatal condition met while walking the input. Group and
// Leaf locate it: Group is the top-level set of a collection (0 otherwise)
// and Leaf the dataset's position inside that group, or -1 for the group.
type Issue struct {
	Group    int      `json:"group"`
	Leaf     int      `json:"leaf"`
	Kind     string   `json:"kind,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Err      error    `json:"-"`
}

// Report describes one ghost pass on this rank.
type Report struct {
	PassID  string        `json:"pass_id"`
	Rank    int           `json:"rank"`
	Layers  int           `json:"layers"`
	Mode    Mode          `json:"mode"`
	Groups  int           `json:"groups"`
	Issues  []Issue       `json:"issues,omitempty"`
	Missing int           `json:"missing"`
	Elapsed time.Duration `json:"elapsed"`
}

// OK reports whether the pass finished without error-level issues and
// every ghost found its owner.
func (r *Report) OK() bool {
	if r == nil {
		return false
	}
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return false
		}
	}
	return r.Missing == 0
}

func (r *Report) add(group, leaf int, kind string, sev Severity, err error) {
	r.Issues = append(r.Issues, Issue{
		Group:    group,
		Leaf:     leaf,
		Kind:     kind,
		Severity: sev,
		Message:  err.Error(),
		Err:      err,
	})
}
