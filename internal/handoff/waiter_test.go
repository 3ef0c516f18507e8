package handoff

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quintetdev/quintet/internal/errors"
	"github.com/quintetdev/quintet/internal/logging"
	"github.com/quintetdev/quintet/internal/termsvc"
)

// fakeTerminal is a minimal stand-in for the terminal service: a mutable
// status, a recorded input log, and a canned last-output response.
type fakeTerminal struct {
	mu         sync.Mutex
	status     string
	lastOutput string
	inputs     []string
}

func (ft *fakeTerminal) setStatus(s string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.status = s
}

func (ft *fakeTerminal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /terminals/{id}", func(w http.ResponseWriter, r *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"status": ft.status})
	})
	mux.HandleFunc("GET /terminals/{id}/output", func(w http.ResponseWriter, r *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"output": ft.lastOutput})
	})
	mux.HandleFunc("POST /terminals/{id}/input", func(w http.ResponseWriter, r *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		ft.inputs = append(ft.inputs, r.URL.Query().Get("message"))
	})
	return mux
}

func newTestWaiter(t *testing.T, ft *fakeTerminal, strict bool) (*Waiter, *Files) {
	t.Helper()
	srv := httptest.NewServer(ft.handler())
	t.Cleanup(srv.Close)

	files := NewFiles(t.TempDir(), logging.Discard())
	if err := files.EnsureDir(); err != nil {
		t.Fatal(err)
	}
	cfg := WaiterConfig{
		PollInterval: 5 * time.Millisecond,
		IdleGrace:    30 * time.Millisecond,
		Timeout:      2 * time.Second,
		Strict:       strict,
	}
	client := termsvc.New(srv.URL, "/work")
	return NewWaiter(client, files, cfg, logging.Discard()), files
}

func TestAwaitReturnsFileOnceSettled(t *testing.T) {
	ft := &fakeTerminal{status: "processing"}
	w, files := newTestWaiter(t, ft, true)

	// File exists while the terminal is still processing; it must not be
	// consumed until the terminal settles.
	if err := os.WriteFile(files.PathFor(RoleAnalyst), []byte("partial then final\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(40 * time.Millisecond)
		ft.setStatus("idle")
	}()

	got, err := w.Await(context.Background(), RoleAnalyst, "t-1")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got != "partial then final" {
		t.Errorf("content = %q", got)
	}
	if files.Exists(RoleAnalyst) {
		t.Error("consumed file must be archived")
	}
}

func TestAwaitToleratesBlankFile(t *testing.T) {
	ft := &fakeTerminal{status: "idle"}
	w, files := newTestWaiter(t, ft, true)

	if err := os.WriteFile(files.PathFor(RoleTester), []byte("   \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(files.PathFor(RoleTester), []byte("RESULT: PASS\n"), 0o644)
	}()

	got, err := w.Await(context.Background(), RoleTester, "t-1")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got != "RESULT: PASS" {
		t.Errorf("content = %q", got)
	}
}

func TestAwaitStrictIdleGrace(t *testing.T) {
	ft := &fakeTerminal{status: "idle"}
	w, _ := newTestWaiter(t, ft, true)

	_, err := w.Await(context.Background(), RoleProgrammer, "t-1")
	if !errors.Is(err, errors.ErrNoResponseFile) {
		t.Fatalf("error = %v, want ErrNoResponseFile", err)
	}
	var hErr *errors.HandoffError
	if !errors.As(err, &hErr) || hErr.Role != RoleProgrammer {
		t.Errorf("error = %v, want HandoffError for programmer", err)
	}
}

func TestAwaitNonStrictFallsBack(t *testing.T) {
	ft := &fakeTerminal{status: "idle", lastOutput: "scraped from scrollback"}
	w, _ := newTestWaiter(t, ft, false)

	got, err := w.Await(context.Background(), RoleProgrammer, "t-1")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got != "scraped from scrollback" {
		t.Errorf("content = %q", got)
	}
}

func TestAwaitTimeoutWhileWorking(t *testing.T) {
	ft := &fakeTerminal{status: "processing"}
	w, _ := newTestWaiter(t, ft, true)
	w.cfg.Timeout = 50 * time.Millisecond

	_, err := w.Await(context.Background(), RoleAnalyst, "t-1")
	if !errors.Is(err, errors.ErrResponseTimeout) {
		t.Fatalf("error = %v, want ErrResponseTimeout", err)
	}
}

func TestAwaitTerminalErrorState(t *testing.T) {
	ft := &fakeTerminal{status: "error"}
	w, _ := newTestWaiter(t, ft, true)

	_, err := w.Await(context.Background(), RoleAnalyst, "t-1")
	if !errors.Is(err, errors.ErrTerminalFailed) {
		t.Fatalf("error = %v, want ErrTerminalFailed", err)
	}
}

func TestAwaitWaitingUserAnswerNotSettled(t *testing.T) {
	ft := &fakeTerminal{status: "waiting_user_answer"}
	w, files := newTestWaiter(t, ft, true)
	w.cfg.Timeout = 50 * time.Millisecond

	// A response file plus a terminal stuck on a human question must not be
	// consumed; the wait times out on the working branch instead.
	if err := os.WriteFile(files.PathFor(RoleAnalyst), []byte("premature"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := w.Await(context.Background(), RoleAnalyst, "t-1")
	if !errors.Is(err, errors.ErrResponseTimeout) {
		t.Fatalf("error = %v, want ErrResponseTimeout", err)
	}
	if !files.Exists(RoleAnalyst) {
		t.Error("file must remain unconsumed")
	}
}

func TestSendAndWaitClearsStale(t *testing.T) {
	ft := &fakeTerminal{status: "idle"}
	w, files := newTestWaiter(t, ft, true)

	if err := os.WriteFile(files.PathFor(RoleAnalyst), []byte("from previous round"), 0o644); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(files.PathFor(RoleAnalyst), []byte("fresh response"), 0o644)
	}()

	got, err := w.SendAndWait(context.Background(), "t-1", RoleAnalyst, "analyze this")
	if err != nil {
		t.Fatalf("SendAndWait: %v", err)
	}
	if got != "fresh response" {
		t.Errorf("content = %q", got)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.inputs) != 1 || !strings.Contains(ft.inputs[0], "analyze this") {
		t.Errorf("inputs = %v", ft.inputs)
	}
}

func TestAwaitContextCancel(t *testing.T) {
	ft := &fakeTerminal{status: "processing"}
	w, _ := newTestWaiter(t, ft, true)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := w.Await(ctx, RoleAnalyst, "t-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
