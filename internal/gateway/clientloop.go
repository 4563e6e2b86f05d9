// Package gateway implements the per-client event loop: it parses
// line-delimited JSON commands off a client socket, drives SSH
// connections and `less` pager sessions in response, and writes back
// line-delimited JSON results, all from a single goroutine per client
// so that neither a slow client nor a slow remote host can starve
// another client's connection.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/katichev/rt-pager/internal/config"
	"github.com/katichev/rt-pager/internal/pager"
	"github.com/katichev/rt-pager/internal/rtlog"
	"github.com/katichev/rt-pager/internal/sessions"
	"github.com/katichev/rt-pager/internal/sshshell"
)

const (
	recvChunkBytes  = 512
	inputOverrun    = 1024
	outChunkBytes   = 512
	pollInterval    = 50 * time.Millisecond
	sweepEveryTicks = 10 // ~500ms at a 50ms poll interval
)

// dialer constructs a RemoteShell for a connect request; the gateway
// depends on this indirection so tests can substitute a fake without
// opening a real network connection.
type dialer func(sshshell.DialOptions) sshshell.RemoteShell

func defaultDialer(opts sshshell.DialOptions) sshshell.RemoteShell {
	return sshshell.NewClient(opts)
}

// ClientLoop owns one client connection end to end.
type ClientLoop struct {
	conn   net.Conn
	name   string
	cfg    *config.Config
	table  *sessions.Table
	dial   dialer

	inBuf   bytes.Buffer
	outBuf  [][]byte
	running bool
}

// New wraps an accepted client connection in a ClientLoop ready to Run.
func New(conn net.Conn, cfg *config.Config) *ClientLoop {
	return &ClientLoop{
		conn:    conn,
		name:    conn.RemoteAddr().String(),
		cfg:     cfg,
		table:   sessions.New(cfg.SessionTimeout),
		dial:    defaultDialer,
		running: true,
	}
}

// Run drives the client's event loop until the connection closes, the
// client sends no data (EOF), or ctx is canceled. It always closes the
// connection and every session registered under it before returning.
func (c *ClientLoop) Run(ctx context.Context) {
	defer c.conn.Close()
	defer c.table.CloseAll()

	ticks := 0
	buf := make([]byte, recvChunkBytes)
	for c.running {
		select {
		case <-ctx.Done():
			rtlog.Info("gateway: shutting down client loop", "client", c.name)
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.recvFromClient(buf[:n])
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// no data this tick, fall through to log polling
			} else {
				rtlog.Info("gateway: client disconnected", "client", c.name)
				return
			}
		}

		for _, logID := range c.table.AllLogIDs() {
			session, ok := c.table.LogSession(logID)
			if !ok {
				continue
			}
			done, err := session.CheckResponse()
			if err != nil {
				rtlog.Warn("gateway: log channel error", "client", c.name, "log_id", logID, "error", err)
				c.table.CloseLog(logID)
				continue
			}
			if done && c.table.LogActive(logID) {
				c.logResponse(logID)
			}
		}

		c.flushOutput()

		ticks++
		if ticks >= sweepEveryTicks {
			ticks = 0
			c.table.SweepExpired()
		}
	}
}

// recvFromClient appends newly read bytes to the line accumulator and
// dispatches every complete "\r\n"-terminated JSON line it finds.
// An accumulator that grows past inputOverrun bytes without ever
// seeing a terminator is dropped outright, guarding against a client
// that never sends a newline.
func (c *ClientLoop) recvFromClient(data []byte) {
	c.inBuf.Write(data)
	for {
		buf := c.inBuf.Bytes()
		idx := bytes.Index(buf, []byte("\r\n"))
		if idx < 0 {
			if c.inBuf.Len() > inputOverrun {
				rtlog.Warn("gateway: input buffer overrun, dropping", "client", c.name, "size", c.inBuf.Len())
				c.inBuf.Reset()
			}
			return
		}
		line := make([]byte, idx)
		copy(line, buf[:idx])
		rest := make([]byte, len(buf)-idx-2)
		copy(rest, buf[idx+2:])
		c.inBuf.Reset()
		c.inBuf.Write(rest)

		c.handleLine(line)
	}
}

func (c *ClientLoop) handleLine(line []byte) {
	rtlog.Debug("gateway: line received", "client", c.name, "line", string(line))

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		rtlog.Warn("gateway: not valid JSON, ignoring", "client", c.name, "error", err)
		return
	}
	if req.Cmd == "" {
		rtlog.Warn("gateway: missing cmd field, ignoring", "client", c.name)
		return
	}
	rtlog.Info("gateway: command", "client", c.name, "cmd", req.Cmd)

	switch {
	case req.Cmd == "connect":
		c.handleConnect(req)

	case c.table.ValidConn(req.ConnID):
		switch req.Cmd {
		case "log_open":
			c.handleLogOpen(req)
		case "get_dir":
			c.handleGetDir(req)
		case "close":
			c.table.CloseConn(req.ConnID)
		default:
			rtlog.Warn("gateway: unable to execute command", "client", c.name, "cmd", req.Cmd)
		}

	case c.table.ValidLog(req.LogID):
		switch req.Cmd {
		case "log_page", "log_next", "log_prev", "log_pos", "log_close":
			c.handleLogCmd(req)
		default:
			rtlog.Warn("gateway: unable to execute command", "client", c.name, "cmd", req.Cmd)
		}

	default:
		rtlog.Warn("gateway: unable to execute command", "client", c.name, "cmd", req.Cmd)
	}
}

func (c *ClientLoop) handleConnect(req Request) {
	host, port, user, identityFile := req.Host, portOrDefault(req.Port), req.User, req.IdentityFile
	if alias, ok := c.cfg.Resolve(req.Host); ok {
		host, port, user, identityFile = alias.Host, alias.Port, alias.User, alias.IdentityFile
		if req.Port != 0 {
			port = req.Port
		}
		if req.User != "" {
			user = req.User
		}
		if req.IdentityFile != "" {
			identityFile = req.IdentityFile
		}
	}

	shell := c.dial(sshshell.DialOptions{
		Host:         host,
		Port:         port,
		User:         user,
		Password:     req.Secret,
		IdentityFile: identityFile,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := shell.Connect(ctx); err != nil {
		rtlog.Warn("gateway: unable to start ssh session", "client", c.name, "error", err)
		c.enqueue(Response{Cmd: req.Cmd, Res: resError})
		return
	}

	connID := c.table.CreateConn(shell)
	rtlog.Info("gateway: new ssh session registered", "client", c.name, "conn_id", connID)
	c.enqueue(Response{Cmd: req.Cmd, Res: resOK, ConnID: connID})
}

func portOrDefault(p int) int {
	if p == 0 {
		return 22
	}
	return p
}

func (c *ClientLoop) handleLogOpen(req Request) {
	shell, ok := c.table.TouchConn(req.ConnID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cols, rows := c.cfg.DefaultCols, c.cfg.DefaultRows
	if req.Cols != 0 {
		cols = req.Cols
	}
	if req.Rows != 0 {
		rows = req.Rows
	}
	pty, err := shell.OpenShell(ctx, cols, rows)
	if err != nil {
		rtlog.Warn("gateway: unable to open shell for log session", "client", c.name, "error", err)
		c.enqueue(Response{Cmd: req.Cmd, Res: resError, Data: err.Error()})
		return
	}

	session := pager.New(pty, req.Path, cols, rows)
	logID := c.table.CreateLog(req.ConnID, session, req.Cmd)
	rtlog.Info("gateway: new log session registered", "client", c.name, "log_id", logID)

	if err := session.PutRequest(pager.TaskOpen, ""); err != nil {
		rtlog.Warn("gateway: open request failed", "client", c.name, "log_id", logID, "error", err)
		c.table.CloseLog(logID)
		c.enqueue(Response{Cmd: req.Cmd, Res: resError, Data: err.Error()})
	}
	// Success is reported later, once CheckResponse sees the OPEN
	// task complete, the same deferred-answer pattern every log
	// command uses.
}

func (c *ClientLoop) handleGetDir(req Request) {
	shell, ok := c.table.TouchConn(req.ConnID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := "ls -1 -d --color=never " + shellQuote(req.Path)
	out, errOut, err := shell.Exec(ctx, cmd)
	if err != nil {
		c.enqueue(Response{Cmd: req.Cmd, Res: resOK, Data: splitNonEmptyLines(string(errOut))})
		return
	}
	entries := splitNonEmptyLines(string(out))
	c.enqueue(Response{Cmd: req.Cmd, Res: resOK, Data: entries})
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

var logTaskByCmd = map[string]pager.TaskKind{
	"log_page": pager.TaskRedraw,
	"log_next": pager.TaskForward,
	"log_prev": pager.TaskBack,
	"log_pos":  pager.TaskPos,
}

func (c *ClientLoop) handleLogCmd(req Request) {
	if req.Cmd == "log_close" {
		c.table.CloseLog(req.LogID)
		c.enqueue(Response{Cmd: req.Cmd, Res: resOK, LogID: req.LogID})
		return
	}

	kind, ok := logTaskByCmd[req.Cmd]
	if !ok {
		return
	}

	session, ok := c.table.TouchLog(req.LogID, sessions.LogActive, req.Cmd)
	if !ok {
		return
	}

	posArg := req.Position.String()
	if req.Cmd == "log_pos" && posArg == "" {
		posArg = "0"
	}

	if err := session.PutRequest(kind, posArg); err != nil {
		rtlog.Warn("gateway: log command rejected", "client", c.name, "log_id", req.LogID, "error", err)
		c.table.TouchLog(req.LogID, sessions.LogIdle, "")
		c.enqueue(Response{Cmd: req.Cmd, Res: resError, LogID: req.LogID})
	}
}

func (c *ClientLoop) logResponse(logID string) {
	session, ok := c.table.LogSession(logID)
	if !ok {
		return
	}
	cmd := c.table.LogCommand(logID)

	if cmd == "log_open" && !session.Launched() {
		rtlog.Warn("gateway: log_open target not found", "client", c.name, "log_id", logID)
		c.enqueue(Response{Cmd: cmd, Res: resError, LogID: logID, Data: session.GetResult()})
		c.table.CloseLog(logID)
		return
	}

	data := session.GetResult()
	rtlog.Info("gateway: log ready", "client", c.name, "log_id", logID)
	c.enqueue(Response{Cmd: cmd, Res: resOK, LogID: logID, Data: data})
	c.table.TouchLog(logID, sessions.LogIdle, "")
}

// enqueue serializes resp and splits it into outChunkBytes-sized
// pieces so a single large response never monopolizes one write.
func (c *ClientLoop) enqueue(resp Response) {
	enc, err := json.Marshal(resp)
	if err != nil {
		rtlog.Error("gateway: failed to encode response", "error", err)
		return
	}
	enc = append(enc, '\r', '\n')
	for pos := 0; pos < len(enc); pos += outChunkBytes {
		end := pos + outChunkBytes
		if end > len(enc) {
			end = len(enc)
		}
		chunk := make([]byte, end-pos)
		copy(chunk, enc[pos:end])
		c.outBuf = append(c.outBuf, chunk)
	}
}

func (c *ClientLoop) flushOutput() {
	for len(c.outBuf) > 0 {
		chunk := c.outBuf[0]
		c.conn.SetWriteDeadline(time.Now().Add(pollInterval))
		if _, err := c.conn.Write(chunk); err != nil {
			rtlog.Warn("gateway: write to client failed", "client", c.name, "error", err)
			c.running = false
			return
		}
		c.outBuf = c.outBuf[1:]
	}
}
