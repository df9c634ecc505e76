// Package journal captures admission events for later inspection and
// replay. Events are held in memory and, when a writer is attached,
// streamed as newline-delimited JSON as they arrive.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/pavankpdev/rate-limiting-implementation/internal/admission"
)

// Journal is an admission.Sink. Safe for concurrent use; Record is
// called from request goroutines and must never fail them, so write
// errors are logged and swallowed.
type Journal struct {
	mu     sync.Mutex
	events []admission.Event
	w      io.Writer
	closer io.Closer
}

// New builds a Journal. If w is non-nil every event is also encoded to
// it, one JSON object per line.
func New(w io.Writer) *Journal {
	return &Journal{w: w}
}

// Open builds a Journal streaming to the file at path, created if
// missing and appended to otherwise. Close releases the file.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Journal{w: f, closer: f}, nil
}

// Record captures one event.
func (j *Journal) Record(e admission.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, e)
	if j.w == nil {
		return
	}
	if err := json.NewEncoder(j.w).Encode(e); err != nil {
		log.Printf("journal: write event: %v", err)
	}
}

// Events returns a copy of everything recorded so far.
func (j *Journal) Events() []admission.Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]admission.Event, len(j.events))
	copy(out, j.events)
	return out
}

// Len reports the number of recorded events.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// Close releases the underlying file, if any.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closer == nil {
		return nil
	}
	err := j.closer.Close()
	j.closer = nil
	j.w = nil
	return err
}

// Load reads newline-delimited events as written by a streaming Journal.
// Blank lines are skipped.
func Load(r io.Reader) ([]admission.Event, error) {
	var events []admission.Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e admission.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("journal: line %d: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("journal: read: %w", err)
	}
	return events, nil
}

// LoadFile reads a journal file written by Open.
func LoadFile(path string) ([]admission.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}
