// Package sessions registers and expires the two kinds of live state
// a client connection accumulates: open SSH connections and, nested
// under each, open log pager sessions. It mirrors the original
// gateway's per-client registries, keyed by random UUIDs so ids are
// safe to hand to clients directly.
package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/katichev/rt-pager/internal/pager"
	"github.com/katichev/rt-pager/internal/rtlog"
	"github.com/katichev/rt-pager/internal/sshshell"
)

// LogState distinguishes a log session with a command in flight
// (Active) from one idle and available for a new request.
type LogState bool

const (
	LogIdle   LogState = false
	LogActive LogState = true
)

type connEntry struct {
	shell   sshshell.RemoteShell
	touched time.Time
}

type logEntry struct {
	session *pager.LogSession
	state   LogState
	cmd     string
	connID  string
}

// Table owns every SSH connection and log session belonging to one
// client. It is safe for concurrent use, though in practice a
// gateway.ClientLoop is the sole caller from a single goroutine.
type Table struct {
	mu      sync.Mutex
	conns   map[string]*connEntry
	logs    map[string]*logEntry
	timeout time.Duration
}

// New creates an empty table. timeout is the idle duration after
// which an untouched SSH connection (and everything nested under it)
// is closed by SweepExpired.
func New(timeout time.Duration) *Table {
	return &Table{
		conns:   make(map[string]*connEntry),
		logs:    make(map[string]*logEntry),
		timeout: timeout,
	}
}

// CreateConn registers a freshly connected SSH shell and returns its
// new connection id.
func (t *Table) CreateConn(shell sshshell.RemoteShell) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uuid.NewString()
	t.conns[id] = &connEntry{shell: shell, touched: time.Now()}
	return id
}

// ValidConn reports whether connID refers to a live connection.
func (t *Table) ValidConn(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conns[connID]
	return ok
}

// ValidLog reports whether logID refers to a live log session.
func (t *Table) ValidLog(logID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.logs[logID]
	return ok
}

// TouchConn refreshes a connection's idle timer and returns its shell.
func (t *Table) TouchConn(connID string) (sshshell.RemoteShell, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.conns[connID]
	if !ok {
		return nil, false
	}
	e.touched = time.Now()
	return e.shell, true
}

// CreateLog registers a new log pager session under connID, refreshing
// the parent connection's idle timer, and returns the new log id.
func (t *Table) CreateLog(connID string, session *pager.LogSession, cmd string) string {
	t.mu.Lock()
	id := uuid.NewString()
	t.logs[id] = &logEntry{session: session, state: LogActive, cmd: cmd, connID: connID}
	t.mu.Unlock()
	t.TouchConn(connID)
	return id
}

// TouchLog updates a log session's activity state and last-issued
// command, refreshing its parent connection's idle timer, and returns
// the underlying pager session.
func (t *Table) TouchLog(logID string, state LogState, cmd string) (*pager.LogSession, bool) {
	t.mu.Lock()
	e, ok := t.logs[logID]
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	e.state = state
	if cmd != "" {
		e.cmd = cmd
	}
	connID := e.connID
	session := e.session
	t.mu.Unlock()
	t.TouchConn(connID)
	return session, true
}

// LogSession returns the pager session registered under logID.
func (t *Table) LogSession(logID string) (*pager.LogSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.logs[logID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// LogCommand returns the most recently dispatched command name for
// logID, used to label the response once the task completes.
func (t *Table) LogCommand(logID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.logs[logID]
	if !ok {
		return ""
	}
	return e.cmd
}

// LogActive reports whether logID has a command currently in flight.
func (t *Table) LogActive(logID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.logs[logID]
	return ok && e.state == LogActive
}

// AllLogIDs returns every registered log session id, for the event
// loop to poll once per tick.
func (t *Table) AllLogIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.logs))
	for id := range t.logs {
		ids = append(ids, id)
	}
	return ids
}

// CloseLog tears down one log session and removes it from the table.
func (t *Table) CloseLog(logID string) {
	t.mu.Lock()
	e, ok := t.logs[logID]
	delete(t.logs, logID)
	t.mu.Unlock()
	if !ok {
		return
	}
	rtlog.Info("sessions: closing log", "log_id", logID)
	if err := e.session.Close(); err != nil {
		rtlog.Warn("sessions: error closing log session", "log_id", logID, "error", err)
	}
}

// CloseConn tears down connID's SSH connection, cascading to every log
// session nested under it first.
func (t *Table) CloseConn(connID string) {
	t.mu.Lock()
	var nested []string
	for id, e := range t.logs {
		if e.connID == connID {
			nested = append(nested, id)
		}
	}
	t.mu.Unlock()

	for _, id := range nested {
		t.CloseLog(id)
	}

	t.mu.Lock()
	e, ok := t.conns[connID]
	delete(t.conns, connID)
	t.mu.Unlock()
	if !ok {
		return
	}
	rtlog.Info("sessions: closing connection", "conn_id", connID)
	if err := e.shell.Close(); err != nil {
		rtlog.Warn("sessions: error closing shell", "conn_id", connID, "error", err)
	}
}

// SweepExpired closes any log session whose shell has exited out from
// under it, then any SSH connection idle past the configured timeout
// (which cascades to close whatever logs remain under it).
func (t *Table) SweepExpired() {
	t.mu.Lock()
	var exitedLogs []string
	for id, e := range t.logs {
		if e.session.ExitStatusReady() {
			exitedLogs = append(exitedLogs, id)
		}
	}
	now := time.Now()
	var expiredConns []string
	for id, e := range t.conns {
		if now.Sub(e.touched) > t.timeout {
			expiredConns = append(expiredConns, id)
		}
	}
	t.mu.Unlock()

	for _, id := range exitedLogs {
		rtlog.Warn("sessions: log channel closed unexpectedly", "log_id", id)
		t.CloseLog(id)
	}
	for _, id := range expiredConns {
		rtlog.Warn("sessions: ssh session expired", "conn_id", id)
		t.CloseConn(id)
	}
}

// CloseAll tears down every connection (and nested log session)
// registered in the table, used on client disconnect.
func (t *Table) CloseAll() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.CloseConn(id)
	}
}
