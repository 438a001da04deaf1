package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/services/extraction"
)

type stubSubmitter struct {
	mu    sync.Mutex
	names []string
	fail  map[string]bool
}

func (s *stubSubmitter) StartJob(ctx context.Context, req extraction.StartRequest) (*extraction.StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[req.FileName] {
		return nil, errors.New("no pages produced")
	}
	s.names = append(s.names, req.FileName)
	return &extraction.StartResult{JobID: uuid.New(), TotalPages: 1, Status: constants.JobStatusProcessing}, nil
}

func (s *stubSubmitter) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.names...)
	sort.Strings(out)
	return out
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestIngestor_IngestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "lunch.pdf"))
	writeFile(t, filepath.Join(root, "DINNER.PDF"))
	writeFile(t, filepath.Join(root, "notes.txt"))
	writeFile(t, filepath.Join(root, "bad.pdf"))
	writeFile(t, filepath.Join(root, "sub", "kids.pdf"))
	writeFile(t, filepath.Join(root, ".cache", "old.pdf"))

	sub := &stubSubmitter{fail: map[string]bool{"bad.pdf": true}}
	ing := NewIngestor(sub, "batch", 5, nil)

	results, stats, err := ing.IngestDirectory(context.Background(), root, true)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if stats.Matched != 4 || stats.Succeeded != 3 || stats.Failed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %+v", results)
	}
	want := []string{"DINNER.PDF", "kids.pdf", "lunch.pdf"}
	got := sub.submitted()
	if len(got) != len(want) {
		t.Fatalf("submitted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("submitted %v, want %v", got, want)
			break
		}
	}
	for _, r := range results {
		if filepath.Base(r.Path) == "bad.pdf" {
			if r.Err == "" || r.JobID != uuid.Nil {
				t.Errorf("failed file result = %+v", r)
			}
		} else if r.JobID == uuid.Nil {
			t.Errorf("missing job id: %+v", r)
		}
	}
}

func TestIngestor_IngestDirectory_IncludesHidden(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".cache", "old.pdf"))

	sub := &stubSubmitter{}
	_, stats, err := NewIngestor(sub, "", 0, nil).IngestDirectory(context.Background(), root, false)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if stats.Succeeded != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestIngestor_IngestPath_RejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.png")
	writeFile(t, path)
	if _, err := NewIngestor(&stubSubmitter{}, "", 0, nil).IngestPath(context.Background(), path); err == nil {
		t.Error("expected an error for a non-PDF extension")
	}
}

func TestIngestDirectory_EmptyRoot(t *testing.T) {
	if _, _, err := NewIngestor(&stubSubmitter{}, "", 0, nil).IngestDirectory(context.Background(), " ", false); err == nil {
		t.Error("expected an error for an empty root")
	}
}

func waitPath(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				t.Fatalf("watcher closed before %s", want)
			}
			if filepath.Base(p) == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestStartWatcher(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "existing.pdf"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	paths, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	waitPath(t, paths, "existing.pdf")

	writeFile(t, filepath.Join(root, "notes.txt"))
	writeFile(t, filepath.Join(root, "new.pdf"))
	waitPath(t, paths, "new.pdf")

	cancel()
	for range paths {
	}
}

func TestStartWatcher_NoRoots(t *testing.T) {
	if _, _, err := StartWatcher(context.Background(), WatchConfig{}); err == nil {
		t.Error("expected an error without roots")
	}
}
