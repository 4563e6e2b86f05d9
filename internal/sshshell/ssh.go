package sshshell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/katichev/rt-pager/internal/rtlog"
)

// DefaultShell is the program NewLocalShell starts when given no shell
// path. Client.OpenShell does not use it: it starts the remote user's
// login shell.
const DefaultShell = "/bin/bash"

// DialOptions configures a Client's connection.
type DialOptions struct {
	Host         string
	Port         int
	User         string
	Password     string
	IdentityFile string
	Timeout      time.Duration
}

// Client is the golang.org/x/crypto/ssh-backed RemoteShell.
type Client struct {
	opts   DialOptions
	client *ssh.Client
}

// NewClient builds a Client; call Connect before using it.
func NewClient(opts DialOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{opts: opts}
}

func (c *Client) Connect(ctx context.Context) error {
	auth, err := authMethods(c.opts)
	if err != nil {
		return fmt.Errorf("sshshell: auth setup: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User:            c.opts.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.opts.Timeout,
	}

	addr := fmt.Sprintf("%s:%d", c.opts.Host, c.opts.Port)
	d := net.Dialer{Timeout: c.opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("sshshell: dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("sshshell: handshake with %s: %w", addr, err)
	}
	c.client = ssh.NewClient(sshConn, chans, reqs)
	rtlog.Info("sshshell: connected", "host", c.opts.Host, "user", c.opts.User)
	return nil
}

func authMethods(opts DialOptions) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if opts.IdentityFile != "" {
		key, err := os.ReadFile(opts.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse identity file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}
	return methods, nil
}

func (c *Client) OpenShell(ctx context.Context, cols, rows int) (Pty, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("sshshell: new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm", rows, cols, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshshell: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshshell: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshshell: stdout pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("sshshell: start shell: %w", err)
	}

	p := &sessionPty{
		session: sess,
		stdin:   stdin,
		reader:  newAsyncReader(stdout),
	}
	go p.waitExit()
	return p, nil
}

func (c *Client) Exec(ctx context.Context, cmd string) ([]byte, []byte, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("sshshell: new session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case err := <-done:
		return stdout.Bytes(), stderr.Bytes(), err
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		return stdout.Bytes(), stderr.Bytes(), ctx.Err()
	}
}

func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// sessionPty adapts an *ssh.Session to Pty.
type sessionPty struct {
	session *ssh.Session
	stdin   io.WriteCloser
	reader  *asyncReader

	exited bool
}

func (p *sessionPty) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *sessionPty) ReadReady() bool              { return p.reader.ready() }
func (p *sessionPty) Read(b []byte) (int, error)   { return p.reader.read(b) }

func (p *sessionPty) Resize(cols, rows int) error {
	return p.session.WindowChange(rows, cols)
}

func (p *sessionPty) ExitStatusReady() bool { return p.exited }

func (p *sessionPty) waitExit() {
	p.session.Wait()
	p.exited = true
}

func (p *sessionPty) Close() error {
	p.stdin.Close()
	return p.session.Close()
}
