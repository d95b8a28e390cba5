package tape

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer appends entries to a JSONL tape file.
// It uses open-write-close semantics: the file is only held open during
// each write, so `relay jobs` and tail can read it freely in between.
type Writer struct {
	path string
	mu   sync.Mutex // serialises appends from completion goroutines
}

// NewWriter creates a Writer for path, creating the parent directory.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating tape dir for %q: %w", path, err)
	}
	return &Writer{path: path}, nil
}

// Path returns the tape file location.
func (w *Writer) Path() string { return w.path }

// WriteEntry appends entry as a JSON line using open-write-sync-close.
func (w *Writer) WriteEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshalling tape entry: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening tape file %q: %w", w.path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("writing tape entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing tape file: %w", err)
	}
	return nil
}
