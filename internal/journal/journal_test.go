package journal

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavankpdev/rate-limiting-implementation/internal/admission"
)

var epoch = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func testEvent(identity string, outcome admission.Outcome) admission.Event {
	return admission.Event{
		Time:     epoch,
		Flow:     admission.FlowGated,
		Identity: identity,
		Outcome:  outcome,
	}
}

func TestJournal_RecordAndEvents(t *testing.T) {
	j := New(nil)

	j.Record(testEvent("u1", admission.OutcomeCompleted))
	j.Record(testEvent("u2", admission.OutcomeRateLimited))

	events := j.Events()
	if len(events) != 2 {
		t.Fatalf("Events() returned %d, want 2", len(events))
	}
	if events[0].Identity != "u1" || events[1].Identity != "u2" {
		t.Errorf("events out of order: %+v", events)
	}
	if j.Len() != 2 {
		t.Errorf("Len() = %d, want 2", j.Len())
	}
}

func TestJournal_StreamsNDJSON(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf)

	j.Record(testEvent("u1", admission.OutcomeCompleted))
	j.Record(testEvent("u1", admission.OutcomeTimedOut))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}

	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load returned %d events, want 2", len(loaded))
	}
	if loaded[1].Outcome != admission.OutcomeTimedOut {
		t.Errorf("loaded[1].Outcome = %q, want timed_out", loaded[1].Outcome)
	}
	if !loaded[0].Time.Equal(epoch) {
		t.Errorf("loaded[0].Time = %v, want %v", loaded[0].Time, epoch)
	}
}

func TestJournal_OpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.ndjson")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first.Record(testEvent("u1", admission.OutcomeCompleted))
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	second.Record(testEvent("u2", admission.OutcomeQueueFull))
	if err := second.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	events, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("LoadFile returned %d events, want 2 (append across opens)", len(events))
	}
	if events[0].Identity != "u1" || events[1].Identity != "u2" {
		t.Errorf("events = %+v, want u1 then u2", events)
	}
}

func TestJournal_CloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.ndjson")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestJournal_RecordSurvivesWriteError(t *testing.T) {
	j := New(failingWriter{})

	j.Record(testEvent("u1", admission.OutcomeCompleted))

	if j.Len() != 1 {
		t.Errorf("Len() = %d after failed write, want 1 (kept in memory)", j.Len())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestJournal_ConcurrentRecord(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				j.Record(testEvent(fmt.Sprintf("u%d", g), admission.OutcomeCompleted))
			}
		}(g)
	}
	wg.Wait()

	if j.Len() != 200 {
		t.Errorf("Len() = %d, want 200", j.Len())
	}
	events, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 200 {
		t.Errorf("Load returned %d events, want 200 (no interleaved writes)", len(events))
	}
}

func TestLoad_SkipsBlankLines(t *testing.T) {
	in := strings.NewReader("\n" + `{"time":"2025-03-01T00:00:00Z","flow":"gated","identity":"u1","outcome":"completed"}` + "\n\n")
	events, err := Load(in)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Load returned %d events, want 1", len(events))
	}
}

func TestLoad_RejectsGarbage(t *testing.T) {
	if _, err := Load(strings.NewReader("not json\n")); err == nil {
		t.Error("Load accepted a malformed line")
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.ndjson")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadFile error = %v, want wrapped os.ErrNotExist", err)
	}
}
