package pager

import (
	"testing"

	"github.com/katichev/rt-pager/internal/sshshell"
)

func TestOpenSucceeds(t *testing.T) {
	pty := sshshell.NewFakePty(5, 5)
	ls := New(pty, "path", 5, 5)

	if err := ls.PutRequest(TaskOpen, ""); err != nil {
		t.Fatalf("PutRequest: %v", err)
	}
	if got := pty.Written(); got != "less path\n" {
		t.Fatalf("Written() = %q, want %q", got, "less path\n")
	}

	pty.Feed([]byte("xyz\r\n(END)\x1b[m\x1b[K"))

	done, err := ls.CheckResponse()
	if err != nil {
		t.Fatalf("CheckResponse: %v", err)
	}
	if !done {
		t.Fatal("expected task to complete")
	}
	if !ls.Launched() {
		t.Fatal("expected file to be launched")
	}

	// A second call with nothing pending must be a no-op completion,
	// mirroring the original plumbing's idempotent re-check.
	done, err = ls.CheckResponse()
	if err != nil {
		t.Fatalf("CheckResponse (no data): %v", err)
	}
	if !done {
		t.Fatal("expected CheckResponse with no task in flight to report done")
	}
}

func TestOpenFileNotFound(t *testing.T) {
	pty := sshshell.NewFakePty(5, 5)
	ls := New(pty, "path", 5, 5)

	if err := ls.PutRequest(TaskOpen, ""); err != nil {
		t.Fatalf("PutRequest: %v", err)
	}

	pty.Feed([]byte("aaa: No such file or directory\r\n"))

	done, err := ls.CheckResponse()
	if err != nil {
		t.Fatalf("CheckResponse: %v", err)
	}
	if !done {
		t.Fatal("expected task to complete")
	}
	if ls.Launched() {
		t.Fatal("expected Launched() to remain false")
	}
}

func TestRequestsBeforeOpenAreRejected(t *testing.T) {
	pty := sshshell.NewFakePty(5, 5)
	ls := New(pty, "path", 5, 5)

	if err := ls.PutRequest(TaskForward, ""); err != ErrNotOpen {
		t.Fatalf("PutRequest(TaskForward) before open = %v, want ErrNotOpen", err)
	}
}

func TestBackAtFirstScreenRejected(t *testing.T) {
	pty := sshshell.NewFakePty(5, 5)
	ls := New(pty, "path", 5, 5)
	ls.launched = true
	ls.firstScreen = true

	err := ls.PutRequest(TaskBack, "")
	if _, ok := err.(*ErrCannotMoveBeyond); !ok {
		t.Fatalf("PutRequest(TaskBack) at first screen = %v, want ErrCannotMoveBeyond", err)
	}
}

func TestRedrawChainedAfterBack(t *testing.T) {
	pty := sshshell.NewFakePty(5, 5)
	ls := New(pty, "path", 5, 5)
	ls.launched = true
	ls.firstScreen = false

	if err := ls.PutRequest(TaskBack, ""); err != nil {
		t.Fatalf("PutRequest(TaskBack): %v", err)
	}
	pty.Feed([]byte(":\x1b[K"))

	done, err := ls.CheckResponse()
	if err != nil {
		t.Fatalf("CheckResponse: %v", err)
	}
	if done {
		t.Fatal("BACK completion must chain into REDRAW rather than report done")
	}
	// "b" sent for BACK, then "r" sent for the chained REDRAW.
	if got := pty.Written(); got != "br" {
		t.Fatalf("Written() = %q, want %q", got, "br")
	}
}
