package model

import "time"

// Status is the lifecycle state of a document submission. The state machine is
// the source of truth; folder placement is a projection of it.
type Status string

const (
	StatusPending     Status = "pending"
	StatusExtracting  Status = "extracting"
	StatusClassifying Status = "classifying"
	StatusSyncing     Status = "syncing"
	StatusDone        Status = "done"
	StatusError       Status = "error"
	StatusNeedsReview Status = "needs_review"
	StatusAborted     Status = "aborted"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusExtracting, StatusError, StatusAborted},
	StatusExtracting:  {StatusClassifying, StatusError, StatusAborted},
	StatusClassifying: {StatusSyncing, StatusError, StatusAborted},
	StatusSyncing:     {StatusDone, StatusNeedsReview, StatusError, StatusAborted},
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Terminal states allow nothing.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusNeedsReview, StatusAborted:
		return true
	}
	return false
}

// Submission is one ingested document. Owned by the orchestrator; the watcher
// only ever creates the initial pending record.
type Submission struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Submitter string    `json:"submitter"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
