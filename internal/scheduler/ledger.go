// internal/scheduler/ledger.go
package scheduler

import (
	"sort"
	"time"
)

// Status is the final state of one script item.
type Status string

const (
	Posted           Status = "posted"
	SkippedDuplicate Status = "skipped_duplicate"
	Failed           Status = "failed"
)

// Satisfied reports whether the item's text is on the page, either because
// it was posted or because it was already there.
func (s Status) Satisfied() bool {
	return s == Posted || s == SkippedDuplicate
}

// Event kinds recorded on outcomes.
const (
	EventProbe           = "probe"
	EventSelected        = "identity_selected"
	EventSessionStarted  = "session_started"
	EventSessionClosed   = "session_closed"
	EventConvergence     = "convergence_timeout"
	EventPostReaction    = "post_reaction"
	EventCommentReaction = "comment_reaction"
	EventExpanded        = "expanded"
	EventDuplicate       = "duplicate_found"
	EventParentLocated   = "parent_located"
	EventSubmission      = "submission"
	EventStepFailed      = "step_failed"
)

// Event is one audit record attached to an outcome.
type Event struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Outcome is the ledger entry for one script item.
type Outcome struct {
	Order      string    `json:"order"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Identity   string    `json:"identity,omitempty"`
	Events     []Event   `json:"events,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Ledger holds one outcome per script item, in processing order.
type Ledger struct {
	RunID      string    `json:"run_id"`
	PostURL    string    `json:"post_url"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Entries    []Outcome `json:"entries"`
}

// ReasonCount is how many items failed for one reason.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Summary aggregates a ledger.
type Summary struct {
	Total    int           `json:"total"`
	Posted   int           `json:"posted"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Failures []ReasonCount `json:"failures,omitempty"`
}

// Summary counts entries by status and failures by reason, most common first.
func (l Ledger) Summary() Summary {
	s := Summary{Total: len(l.Entries)}
	reasons := map[string]int{}
	for _, e := range l.Entries {
		switch e.Status {
		case Posted:
			s.Posted++
		case SkippedDuplicate:
			s.Skipped++
		case Failed:
			s.Failed++
			reasons[e.Reason]++
		}
	}
	for reason, n := range reasons {
		s.Failures = append(s.Failures, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(s.Failures, func(i, j int) bool {
		if s.Failures[i].Count != s.Failures[j].Count {
			return s.Failures[i].Count > s.Failures[j].Count
		}
		return s.Failures[i].Reason < s.Failures[j].Reason
	})
	return s
}

// HasFailures reports whether any entry failed.
func (l Ledger) HasFailures() bool {
	for _, e := range l.Entries {
		if e.Status == Failed {
			return true
		}
	}
	return false
}

// Lookup returns the entry for order.
func (l Ledger) Lookup(order string) (Outcome, bool) {
	for _, e := range l.Entries {
		if e.Order == order {
			return e, true
		}
	}
	return Outcome{}, false
}
