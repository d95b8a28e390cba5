package tape

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// JobSummary is the reconstructed history of one job.
type JobSummary struct {
	ID           string   `json:"id"`
	Command      string   `json:"command"`
	Elevated     bool     `json:"elevated"`
	StartedAt    int64    `json:"started_at"`
	Backgrounded bool     `json:"backgrounded"`
	Outcome      *Outcome `json:"outcome,omitempty"`
}

// Summary holds every job found on a tape, ordered by first appearance.
type Summary struct {
	Jobs []JobSummary `json:"jobs"`
}

// ReadTapeFile reads and parses a complete JSONL tape file from disk.
// A missing file is an empty summary: no job has run yet.
func ReadTapeFile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Summary{}, nil
		}
		return nil, fmt.Errorf("opening tape file %q: %w", path, err)
	}
	defer f.Close()

	return ReadTape(f)
}

// ReadTape parses a JSONL tape stream. Entries for a job id that was
// never started (a truncated tape) still get a summary row.
func ReadTape(r io.Reader) (*Summary, error) {
	scanner := bufio.NewScanner(r)
	// Outcome lines carry the output tail.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	summary := &Summary{}
	index := make(map[string]int)
	job := func(id string) *JobSummary {
		i, ok := index[id]
		if !ok {
			i = len(summary.Jobs)
			index[id] = i
			summary.Jobs = append(summary.Jobs, JobSummary{ID: id})
		}
		return &summary.Jobs[i]
	}

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("line %d: unmarshal entry: %w", lineNum, err)
		}

		switch entry.Type {
		case TypeJob:
			var js JobStart
			if err := json.Unmarshal(entry.Data, &js); err != nil {
				return nil, fmt.Errorf("line %d: unmarshal job: %w", lineNum, err)
			}
			j := job(js.ID)
			j.Command = js.Command
			j.Elevated = js.Elevated
			j.StartedAt = js.StartedAt

		case TypeBackgrounded:
			var bg Backgrounded
			if err := json.Unmarshal(entry.Data, &bg); err != nil {
				return nil, fmt.Errorf("line %d: unmarshal backgrounded: %w", lineNum, err)
			}
			job(bg.ID).Backgrounded = true

		case TypeOutcome:
			var out Outcome
			if err := json.Unmarshal(entry.Data, &out); err != nil {
				return nil, fmt.Errorf("line %d: unmarshal outcome: %w", lineNum, err)
			}
			job(out.ID).Outcome = &out

		default:
			return nil, fmt.Errorf("line %d: unknown entry type %q", lineNum, entry.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning tape: %w", err)
	}
	return summary, nil
}

// Last returns the most recently started job, or nil.
func (s *Summary) Last() *JobSummary {
	if len(s.Jobs) == 0 {
		return nil
	}
	return &s.Jobs[len(s.Jobs)-1]
}
