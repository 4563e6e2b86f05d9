// Package sshshell abstracts the remote transport a pager session
// runs over: opening an interactive PTY shell on a remote host and
// running one-off commands (used for directory listings), without
// the rest of the gateway caring whether that shell is a real SSH
// connection or a fake used in tests.
package sshshell

import "context"

// Pty is a single interactive shell channel: bytes written arrive on
// the remote program's stdin, bytes read come from its combined
// stdout/stderr. ReadReady must not block — it reports whether a
// subsequent Read would return data without waiting on the network,
// matching the way a gateway's single-threaded event loop polls many
// PTYs per tick instead of blocking on any one of them.
type Pty interface {
	Write(p []byte) (int, error)
	ReadReady() bool
	Read(p []byte) (int, error)
	Resize(cols, rows int) error
	ExitStatusReady() bool
	Close() error
}

// RemoteShell opens shells and runs commands against one remote host.
type RemoteShell interface {
	// Connect establishes the underlying transport. It must be called
	// before OpenShell or Exec.
	Connect(ctx context.Context) error

	// OpenShell starts an interactive shell sized cols x rows.
	OpenShell(ctx context.Context, cols, rows int) (Pty, error)

	// Exec runs cmd to completion and returns its captured stdout and
	// stderr. Used for one-shot commands like listing a directory.
	Exec(ctx context.Context, cmd string) (stdout []byte, stderr []byte, err error)

	// Close tears down the underlying transport. For Client this also
	// ends every shell opened through it; LocalShell and
	// FakeRemoteShell do not close the Ptys they handed out.
	Close() error
}
