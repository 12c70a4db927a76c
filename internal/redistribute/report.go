package redistribute

import (
	"time"

	"github.com/danmuck/treegrid/internal/observability"
)

const filterName = "redistribute"

// Phase names as they appear in reports, logs and metrics.
const (
	PhaseValidate    = "validate"
	PhaseCollect     = "collect"
	PhaseAssign      = "assign"
	PhaseMetadata    = "metadata"
	PhaseDescriptors = "descriptors"
	PhaseMask        = "mask"
	PhaseCells       = "cells"
)

type PhaseTiming struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
}

// Report summarizes one redistribution on one rank. Byte counts are what
// this rank sent to other ranks.
type Report struct {
	RunID    string `json:"run_id"`
	Rank     int    `json:"rank"`
	Size     int    `json:"size"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`

	Phases []PhaseTiming `json:"phases"`

	TreesKept     int `json:"trees_kept"`
	TreesSent     int `json:"trees_sent"`
	TreesReceived int `json:"trees_received"`

	DescriptorBytes int `json:"descriptor_bytes"`
	MaskBytes       int `json:"mask_bytes"`
	CellBytes       int `json:"cell_bytes"`

	CellsOut int `json:"cells_out"`
}

// Total returns the summed phase durations.
func (r *Report) Total() time.Duration {
	var total time.Duration
	for _, p := range r.Phases {
		total += p.Duration
	}
	return total
}

func (r *Report) phase(name string, start time.Time) {
	d := time.Since(start)
	r.Phases = append(r.Phases, PhaseTiming{Name: name, Duration: d})
	observability.RecordPhase(filterName, name, d)
}

func (r *Report) publish() {
	observability.RecordTrees(r.TreesKept, r.TreesSent, r.TreesReceived)
	observability.RecordBytesExchanged("descriptor", r.DescriptorBytes)
	observability.RecordBytesExchanged("mask", r.MaskBytes)
	observability.RecordBytesExchanged("cells", r.CellBytes)
}
