package collect

import (
	"github.com/TobiSchelling/legitcheck/internal/triage"
)

// Counts tracks retained posts per verdict.
type Counts struct {
	Real      int
	Fake      int
	Uncertain int
}

// Quota caps the number of retained posts per verdict.
type Quota struct {
	Real      int
	Fake      int
	Uncertain int
}

// LogEntry is one row of the dataset log: a retained image and where it went.
type LogEntry struct {
	PostID         string `json:"Post ID"`
	ImageURL       string `json:"Image URL"`
	Classification string `json:"Classification"`
	Timestamp      string `json:"Timestamp"`
	DatasetSplit   string `json:"Dataset Split"`
}

// Run is the state of one collection run.
type Run struct {
	ID               string
	Counts           Counts
	ImagesDownloaded int
	Processed        int
	Skipped          int
	Discarded        int
	Log              []LogEntry
}

func newRun(id string) *Run {
	return &Run{ID: id, Log: []LogEntry{}}
}

// Full reports whether every verdict has reached its cap.
func (r *Run) Full(q Quota) bool {
	return r.Counts.Real >= q.Real && r.Counts.Fake >= q.Fake && r.Counts.Uncertain >= q.Uncertain
}

// Reached reports whether the cap for v has been reached.
func (r *Run) Reached(v triage.Verdict, q Quota) bool {
	switch v {
	case triage.Real:
		return r.Counts.Real >= q.Real
	case triage.Fake:
		return r.Counts.Fake >= q.Fake
	default:
		return r.Counts.Uncertain >= q.Uncertain
	}
}

func (r *Run) retain(v triage.Verdict) {
	switch v {
	case triage.Real:
		r.Counts.Real++
	case triage.Fake:
		r.Counts.Fake++
	default:
		r.Counts.Uncertain++
	}
}
