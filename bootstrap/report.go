package bootstrap

import (
	"fmt"
	"strings"
	"time"
)

// StepStatus is the outcome of one bootstrap step.
type StepStatus string

const (
	// StepApplied means the step changed store or filesystem state.
	StepApplied StepStatus = "applied"
	// StepSkipped means the target state already existed.
	StepSkipped StepStatus = "skipped"
	// StepFailed means the step errored and aborted the run.
	StepFailed StepStatus = "failed"
)

// StepResult records one step's outcome for the run report.
type StepResult struct {
	Name   string
	Status StepStatus
	Detail string
}

// Report is the full outcome of a bootstrap run: every step in
// execution order with its status. A re-run against an already
// provisioned store produces a report where every step is skipped.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepResult
}

func (r *Report) record(name string, status StepStatus, detail string) {
	r.Steps = append(r.Steps, StepResult{Name: name, Status: status, Detail: detail})
}

// Applied returns how many steps changed state.
func (r *Report) Applied() int {
	return r.count(StepApplied)
}

// Skipped returns how many steps found their target state already
// present.
func (r *Report) Skipped() int {
	return r.count(StepSkipped)
}

func (r *Report) count(status StepStatus) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Step returns the result for a named step and whether it ran.
func (r *Report) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// String renders the report as one line per step.
func (r *Report) String() string {
	var b strings.Builder
	for _, s := range r.Steps {
		if s.Detail != "" {
			fmt.Fprintf(&b, "%-8s %s (%s)\n", s.Status, s.Name, s.Detail)
		} else {
			fmt.Fprintf(&b, "%-8s %s\n", s.Status, s.Name)
		}
	}
	fmt.Fprintf(&b, "%d applied, %d skipped in %s\n",
		r.Applied(), r.Skipped(), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return b.String()
}
