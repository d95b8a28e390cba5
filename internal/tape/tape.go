// Package tape is the append-only JSONL journal of shell job lifecycles.
package tape

import (
	"encoding/json"
	"time"
)

// Entry types.
const (
	TypeJob          = "job"
	TypeBackgrounded = "backgrounded"
	TypeOutcome      = "outcome"
)

// Entry is a single line in the JSONL tape file. The Type field
// discriminates the payload stored in Data.
type Entry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JobStart is written when a job record is created.
type JobStart struct {
	ID        string `json:"id"`
	Command   string `json:"command"`
	Elevated  bool   `json:"elevated"`
	StartedAt int64  `json:"started_at"` // unix millis
}

// Backgrounded is written when the foreground window expires and the job
// keeps running in the background.
type Backgrounded struct {
	ID string `json:"id"`
	At int64  `json:"at"`
}

// Outcome is written once per job when it reaches a terminal state.
type Outcome struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Tail       string `json:"tail"`
	Warning    string `json:"warning,omitempty"`
}

// JobEntry returns an Entry of type "job".
func JobEntry(j JobStart) Entry {
	return newEntry(TypeJob, j)
}

// BackgroundedEntry returns an Entry of type "backgrounded" stamped now.
func BackgroundedEntry(id string) Entry {
	return newEntry(TypeBackgrounded, Backgrounded{ID: id, At: time.Now().UnixMilli()})
}

// OutcomeEntry returns an Entry of type "outcome".
func OutcomeEntry(o Outcome) Entry {
	return newEntry(TypeOutcome, o)
}

func newEntry(typ string, v any) Entry {
	data, _ := json.Marshal(v)
	return Entry{Type: typ, Data: data}
}
