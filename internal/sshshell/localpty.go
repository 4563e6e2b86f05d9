package sshshell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// LocalShell is a RemoteShell that runs commands on the machine the
// gateway itself is on, through a real PTY, instead of over SSH. It
// exists for running and exercising a log session against a real
// `less` binary without a reachable SSH host — development and
// integration testing, never a `connect` request from a client (which
// always dials a Client per DialOptions.Host).
type LocalShell struct {
	shellPath string
}

// NewLocalShell builds a LocalShell that starts shellPath (DefaultShell
// if empty) as the interactive program for OpenShell.
func NewLocalShell(shellPath string) *LocalShell {
	if shellPath == "" {
		shellPath = DefaultShell
	}
	return &LocalShell{shellPath: shellPath}
}

func (l *LocalShell) Connect(ctx context.Context) error { return nil }

func (l *LocalShell) OpenShell(ctx context.Context, cols, rows int) (Pty, error) {
	cmd := exec.Command(l.shellPath)
	cmd.Env = append(os.Environ(), "TERM=xterm")
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("sshshell: start local pty: %w", err)
	}

	p := &localPty{cmd: cmd, f: f, reader: newAsyncReader(f)}
	go p.waitExit()
	return p, nil
}

func (l *LocalShell) Exec(ctx context.Context, cmd string) ([]byte, []byte, error) {
	c := exec.CommandContext(ctx, l.shellPath, "-c", cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (l *LocalShell) Close() error { return nil }

// localPty adapts a creack/pty-backed local process to Pty.
type localPty struct {
	cmd    *exec.Cmd
	f      *os.File
	reader *asyncReader

	mu     sync.Mutex
	exited bool
}

func (p *localPty) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *localPty) ReadReady() bool              { return p.reader.ready() }
func (p *localPty) Read(b []byte) (int, error)   { return p.reader.read(b) }

func (p *localPty) Resize(cols, rows int) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (p *localPty) ExitStatusReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *localPty) waitExit() {
	p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
}

func (p *localPty) Close() error {
	p.f.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return nil
}
