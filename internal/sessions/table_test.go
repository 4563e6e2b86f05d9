package sessions

import (
	"testing"
	"time"

	"github.com/katichev/rt-pager/internal/pager"
	"github.com/katichev/rt-pager/internal/sshshell"
)

func TestCreateAndTouchConn(t *testing.T) {
	tbl := New(time.Minute)
	shell := sshshell.NewFakeRemoteShell()

	id := tbl.CreateConn(shell)
	if !tbl.ValidConn(id) {
		t.Fatal("expected connection to be valid immediately after creation")
	}
	if _, ok := tbl.TouchConn(id); !ok {
		t.Fatal("TouchConn on a live connection should succeed")
	}
	if _, ok := tbl.TouchConn("nonexistent"); ok {
		t.Fatal("TouchConn on an unknown id should fail")
	}
}

func TestCloseConnCascadesToLogs(t *testing.T) {
	tbl := New(time.Minute)
	shell := sshshell.NewFakeRemoteShell()
	connID := tbl.CreateConn(shell)

	pty := sshshell.NewFakePty(80, 24)
	logID := tbl.CreateLog(connID, pager.New(pty, "/var/log/syslog", 80, 24), "log_open")

	if !tbl.ValidLog(logID) {
		t.Fatal("expected log session to be valid after creation")
	}

	tbl.CloseConn(connID)

	if tbl.ValidConn(connID) {
		t.Fatal("expected connection to be gone after CloseConn")
	}
	if tbl.ValidLog(logID) {
		t.Fatal("expected nested log session to be closed along with its connection")
	}
	if !pty.Closed() {
		t.Fatal("expected the log session's pty to have been closed")
	}
}

func TestSweepExpiredClosesIdleConn(t *testing.T) {
	tbl := New(10 * time.Millisecond)
	shell := sshshell.NewFakeRemoteShell()
	connID := tbl.CreateConn(shell)

	time.Sleep(20 * time.Millisecond)
	tbl.SweepExpired()

	if tbl.ValidConn(connID) {
		t.Fatal("expected idle connection to be swept")
	}
}

func TestSweepExpiredClosesExitedLog(t *testing.T) {
	tbl := New(time.Minute)
	shell := sshshell.NewFakeRemoteShell()
	connID := tbl.CreateConn(shell)

	pty := sshshell.NewFakePty(80, 24)
	logID := tbl.CreateLog(connID, pager.New(pty, "/var/log/syslog", 80, 24), "log_open")
	pty.SetExitReady()

	tbl.SweepExpired()

	if tbl.ValidLog(logID) {
		t.Fatal("expected log session with an exited pty to be swept")
	}
	if !tbl.ValidConn(connID) {
		t.Fatal("an exited log must not take its parent connection down with it")
	}
}

func TestTouchLogUpdatesStateAndCommand(t *testing.T) {
	tbl := New(time.Minute)
	shell := sshshell.NewFakeRemoteShell()
	connID := tbl.CreateConn(shell)

	pty := sshshell.NewFakePty(80, 24)
	logID := tbl.CreateLog(connID, pager.New(pty, "/var/log/syslog", 80, 24), "log_open")

	if !tbl.LogActive(logID) {
		t.Fatal("a freshly created log session should start active")
	}

	if _, ok := tbl.TouchLog(logID, LogIdle, "log_next"); !ok {
		t.Fatal("TouchLog on a live log should succeed")
	}
	if tbl.LogActive(logID) {
		t.Fatal("expected log session to be idle after TouchLog(LogIdle)")
	}
	if got := tbl.LogCommand(logID); got != "log_next" {
		t.Fatalf("LogCommand() = %q, want %q", got, "log_next")
	}
}
