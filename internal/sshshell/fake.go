package sshshell

import (
	"bytes"
	"context"
	"sync"
)

// FakePty is an in-memory Pty for unit tests: writes are recorded
// verbatim, and canned responses can be queued to be returned from
// subsequent Read calls, simulating a remote `less` without any
// network or subprocess.
type FakePty struct {
	mu        sync.Mutex
	written   bytes.Buffer
	pending   []byte
	cols      int
	rows      int
	closed    bool
	exitReady bool
}

func NewFakePty(cols, rows int) *FakePty {
	return &FakePty{cols: cols, rows: rows}
}

// Feed queues bytes to be returned by future Read calls, as if the
// remote program had just produced them.
func (p *FakePty) Feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
}

// Written returns everything written to the Pty so far (e.g. to
// assert that `less path\n` was sent).
func (p *FakePty) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *FakePty) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *FakePty) ReadReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) > 0
}

func (p *FakePty) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *FakePty) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	return nil
}

func (p *FakePty) ExitStatusReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitReady
}

func (p *FakePty) SetExitReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitReady = true
}

func (p *FakePty) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *FakePty) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// FakeRemoteShell is a RemoteShell backed by FakePty, for tests of
// session lifecycle code that don't need real transport.
type FakeRemoteShell struct {
	mu      sync.Mutex
	shells  []*FakePty
	execOut []byte
	execErr []byte
	execFn  func(cmd string) ([]byte, []byte, error)
	closed  bool
}

func NewFakeRemoteShell() *FakeRemoteShell { return &FakeRemoteShell{} }

func (f *FakeRemoteShell) Connect(ctx context.Context) error { return nil }

func (f *FakeRemoteShell) OpenShell(ctx context.Context, cols, rows int) (Pty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := NewFakePty(cols, rows)
	f.shells = append(f.shells, p)
	return p, nil
}

// LastPty returns the most recently opened fake Pty, or nil if none
// has been opened yet — a convenience for tests that need to feed
// canned output into whatever shell the code under test just opened.
func (f *FakeRemoteShell) LastPty() *FakePty {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.shells) == 0 {
		return nil
	}
	return f.shells[len(f.shells)-1]
}

// SetExecResult configures what Exec returns for every call.
func (f *FakeRemoteShell) SetExecResult(stdout, stderr []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execOut, f.execErr = stdout, stderr
}

func (f *FakeRemoteShell) Exec(ctx context.Context, cmd string) ([]byte, []byte, error) {
	f.mu.Lock()
	fn := f.execFn
	out, errOut := f.execOut, f.execErr
	f.mu.Unlock()
	if fn != nil {
		return fn(cmd)
	}
	return out, errOut, nil
}

func (f *FakeRemoteShell) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
