package ui

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/webthings/thingcheck/internal/check"
	"github.com/webthings/thingcheck/internal/scenario"
)

// Report is the machine-readable outcome of a run.
type Report struct {
	Target     string         `json:"target"`
	Flavor     string         `json:"flavor"`
	Passed     bool           `json:"passed"`
	DurationMS int64          `json:"durationMs"`
	Thing      *ReportThing   `json:"thing,omitempty"`
	Steps      []ReportStep   `json:"steps"`
	Failure    *ReportFailure `json:"failure,omitempty"`
}

// ReportThing identifies the thing that was checked.
type ReportThing struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ReportStep is the outcome of one step.
type ReportStep struct {
	Index      int                 `json:"index"`
	Name       string              `json:"name"`
	Status     scenario.StepStatus `json:"status"`
	DurationMS int64               `json:"durationMs"`
}

// ReportFailure describes the failure that aborted the run.
type ReportFailure struct {
	Step            string   `json:"step"`
	Kind            string   `json:"kind,omitempty"`
	Field           string   `json:"field,omitempty"`
	Method          string   `json:"method,omitempty"`
	Path            string   `json:"path,omitempty"`
	Status          int      `json:"status,omitempty"`
	Message         string   `json:"message"`
	Troubleshooting []string `json:"troubleshooting,omitempty"`
}

// NewReport builds a report from a finished run.
func NewReport(target, flavor string, result *scenario.Result) *Report {
	r := &Report{
		Target:     target,
		Flavor:     flavor,
		Passed:     result.Passed(),
		DurationMS: result.Duration.Milliseconds(),
		Steps:      make([]ReportStep, 0, len(result.Steps)),
	}
	if d := result.Description; d != nil {
		r.Thing = &ReportThing{ID: d.ID, Title: d.Title}
	}
	for _, s := range result.Steps {
		r.Steps = append(r.Steps, ReportStep{
			Index:      s.Index,
			Name:       s.Name,
			Status:     s.Status,
			DurationMS: s.Duration.Milliseconds(),
		})
	}

	if failed := result.Failed(); failed != nil {
		f := &ReportFailure{
			Step:            failed.Name,
			Message:         failed.Err.Error(),
			Troubleshooting: check.Troubleshooting(failed.Err),
		}
		var cf *check.Failure
		if errors.As(failed.Err, &cf) {
			f.Kind = cf.Kind.String()
			f.Field = cf.Field
			f.Method = cf.Method
			f.Path = cf.Path
			f.Status = cf.Status
		}
		r.Failure = f
	}
	return r
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
