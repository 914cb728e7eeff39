package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newEvent(dest string, checksums map[string]string) *Event {
	files := make(map[string]FileInfo, len(checksums))
	for name, sum := range checksums {
		files[name] = FileInfo{Checksum: sum, URI: dest + "/" + name, ByteSize: 10}
	}
	return &Event{
		Timestamp: time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC),
		Batch:     BatchInfo{Destination: dest, FileCount: len(files)},
		Files:     files,
		Producer:  ProducerInfo{Name: "sol-pipeline", Version: "test"},
	}
}

func TestComputeEventHash(t *testing.T) {
	evt := newEvent("file:///mnt/lcs", map[string]string{"utimphis.xlsx": "sha256:abc"})
	evt.SetChainHashes("")

	if len(evt.Chain.EventHash) < 7 || evt.Chain.EventHash[:7] != "sha256:" {
		t.Errorf("EventHash should start with 'sha256:', got: %s", evt.Chain.EventHash)
	}
	if evt.Chain.PrevEventHash != "" {
		t.Errorf("PrevEventHash should be empty for first in chain, got: %s", evt.Chain.PrevEventHash)
	}
}

func TestHashDependsOnPrevAndContent(t *testing.T) {
	a := newEvent("d", map[string]string{"f": "sha256:1"})
	a.SetChainHashes("prev_A")
	b := newEvent("d", map[string]string{"f": "sha256:1"})
	b.SetChainHashes("prev_A")
	if a.Chain.EventHash != b.Chain.EventHash {
		t.Error("identical events should produce identical hashes")
	}

	c := newEvent("d", map[string]string{"f": "sha256:1"})
	c.SetChainHashes("prev_B")
	if a.Chain.EventHash == c.Chain.EventHash {
		t.Error("different prev_hash should produce different event_hash")
	}

	d := newEvent("d", map[string]string{"f": "sha256:2"})
	d.SetChainHashes("prev_A")
	if a.Chain.EventHash == d.Chain.EventHash {
		t.Error("different content should produce different event_hash")
	}
}

func TestFileOrderingDeterminism(t *testing.T) {
	a := newEvent("d", map[string]string{"zebra": "z", "alpha": "a", "middle": "m"})
	b := newEvent("d", map[string]string{"alpha": "a", "middle": "m", "zebra": "z"})
	a.SetChainHashes("")
	b.SetChainHashes("")

	if a.Chain.EventHash != b.Chain.EventHash {
		t.Errorf("file order should not affect hash.\n  a: %s\n  b: %s", a.Chain.EventHash, b.Chain.EventHash)
	}
}

func TestFileEmitterChainsAndVerifies(t *testing.T) {
	dir := t.TempDir()
	e, err := NewFileEmitter(dir)
	if err != nil {
		t.Fatalf("NewFileEmitter failed: %v", err)
	}

	first := newEvent("file:///mnt/lcs", map[string]string{"utimphis.xlsx": "sha256:1"})
	if err := e.Emit(context.Background(), first); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	second := newEvent("file:///mnt/lcs", map[string]string{"utimphis.xlsx": "sha256:2"})
	second.Timestamp = second.Timestamp.Add(24 * time.Hour)
	if err := e.Emit(context.Background(), second); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	if second.Chain.PrevEventHash != first.Chain.EventHash {
		t.Errorf("second event should link to first: prev=%s first=%s", second.Chain.PrevEventHash, first.Chain.EventHash)
	}

	// A reopened tracker continues the chain.
	reopened, err := NewChainTracker(dir)
	if err != nil {
		t.Fatalf("NewChainTracker failed: %v", err)
	}
	head, err := reopened.GetHead("file:///mnt/lcs")
	if err != nil || head != second.Chain.EventHash {
		t.Errorf("persisted head = %s, %v; want %s", head, err, second.Chain.EventHash)
	}

	n, err := VerifyDir(dir)
	if err != nil {
		t.Fatalf("VerifyDir failed: %v", err)
	}
	if n != 2 {
		t.Errorf("verified %d events, want 2", n)
	}
}

func TestVerifyDirDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	e, _ := NewFileEmitter(dir)
	evt := newEvent("d", map[string]string{"f": "sha256:1"})
	if err := e.Emit(context.Background(), evt); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	events, _ := ReadEvents(dir)
	events[0].Files["f"] = FileInfo{Checksum: "sha256:forged"}
	data, _ := json.Marshal(events[0])

	matches, _ := filepath.Glob(filepath.Join(dir, "events", "*.json"))
	if len(matches) != 1 {
		t.Fatalf("expected one event file, got %v", matches)
	}
	if err := os.WriteFile(matches[0], data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := VerifyDir(dir); err == nil {
		t.Error("tampered event should fail verification")
	}
}

func TestHTTPEmitterRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e, err := NewHTTPEmitter(Config{Directory: t.TempDir(), Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPEmitter failed: %v", err)
	}
	e.retryDelay = time.Millisecond

	evt := newEvent("s3://lcs", map[string]string{"f": "sha256:1"})
	if err := e.Emit(context.Background(), evt); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("collector called %d times, want 2", calls.Load())
	}
	if received.Chain.EventHash != evt.Chain.EventHash {
		t.Errorf("collector got hash %s, want %s", received.Chain.EventHash, evt.Chain.EventHash)
	}
}

func TestHTTPEmitterFailureKeepsChainHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e, _ := NewHTTPEmitter(Config{Directory: dir, Endpoint: srv.URL})
	e.retryDelay = time.Millisecond

	if err := e.Emit(context.Background(), newEvent("d", map[string]string{"f": "x"})); err == nil {
		t.Fatal("Emit should fail when the collector rejects every attempt")
	}
	if _, err := e.backup.chain.GetHead("d"); err != ErrNoChainHead {
		t.Errorf("chain head should not advance on failure, got %v", err)
	}
}

func TestNewDisabled(t *testing.T) {
	e, err := New(Config{})
	if err != nil || e != nil {
		t.Errorf("disabled config = %v, %v; want nil, nil", e, err)
	}
	if _, err := New(Config{Enabled: true}); err == nil {
		t.Error("enabled config without directory should fail")
	}
}

func TestVerifyChainRejectsFork(t *testing.T) {
	a := newEvent("d", map[string]string{"f": "1"})
	a.SetChainHashes("")
	b := newEvent("d", map[string]string{"f": "2"})
	b.SetChainHashes("")

	if err := VerifyChain([]*Event{a, b}); err == nil {
		t.Error("two events without a predecessor should fail verification")
	}

	c := newEvent("d", map[string]string{"f": "3"})
	c.SetChainHashes(a.Chain.EventHash)
	if err := VerifyChain([]*Event{c, a}); err != nil {
		t.Errorf("linked events in reverse order should verify: %v", err)
	}
}
