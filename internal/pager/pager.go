// Package pager drives a single `less` process over a remote PTY,
// translating page-forward/back/redraw/seek requests into the
// keystrokes `less` expects and using screen.ScreenBuffer's anchor
// matcher to know when each command's output has finished arriving.
package pager

import (
	"fmt"
	"strconv"

	"github.com/katichev/rt-pager/internal/rtlog"
	"github.com/katichev/rt-pager/internal/screen"
	"github.com/katichev/rt-pager/internal/sshshell"
)

const (
	escPositive    = "\x1b[m"
	escEraseRight  = "\x1b[K"
	readChunkBytes = 256
)

// TaskKind names one of the six pager operations.
type TaskKind int

const (
	TaskOpen TaskKind = iota
	TaskClose
	TaskForward
	TaskBack
	TaskPos
	TaskRedraw
)

func (k TaskKind) String() string {
	switch k {
	case TaskOpen:
		return "open"
	case TaskClose:
		return "close"
	case TaskForward:
		return "fwd"
	case TaskBack:
		return "back"
	case TaskPos:
		return "pos"
	case TaskRedraw:
		return "redraw"
	}
	return "unknown"
}

// task pairs a kind with the ordered anchors that signal its
// completion. Anchors are tried in put order; the second entry is, by
// convention across tasks, the one meaning "no more movement in this
// direction" (end of file, or start of file for BACK).
type task struct {
	kind    TaskKind
	anchors []string
}

var (
	taskOpen = task{TaskOpen, []string{escPositive + escEraseRight, "(END) \x1b", "No such file"}}
	// CLOSE's second anchor is empty and is dropped by ScreenBuffer's
	// WaitForAnchors filter — `less` on quit gives no reliable second
	// marker, so completion rests entirely on the erase-to-EOL anchor.
	taskClose   = task{TaskClose, []string{escEraseRight, ""}}
	taskForward = task{TaskForward, []string{":" + escEraseRight, "(END) \x1b"}}
	taskRedraw  = task{TaskRedraw, []string{":" + escEraseRight, "(END) \x1b"}}
	taskBack    = task{TaskBack, []string{":" + escEraseRight, "\x07\x0d\x1b"}}
	taskPos     = task{TaskPos, []string{";1H\x0d\x1b[K:", "(END) \x1b", ":" + escEraseRight}}
)

func taskFor(kind TaskKind) task {
	switch kind {
	case TaskOpen:
		return taskOpen
	case TaskClose:
		return taskClose
	case TaskForward:
		return taskForward
	case TaskBack:
		return taskBack
	case TaskPos:
		return taskPos
	case TaskRedraw:
		return taskRedraw
	}
	panic(fmt.Sprintf("pager: unknown task kind %d", kind))
}

// redrawAfterBack is true because BACK and POS leave `less` painting
// the screen bottom-up, making line-wrap bookkeeping unreliable; a
// REDRAW is silently chained after either one completes so the next
// render reflects a clean top-down repaint.
const redrawAfterBack = true

// ErrCannotMoveBeyond is returned by PutRequest for a FORWARD request
// already at the last screen, or a BACK request already at the first.
type ErrCannotMoveBeyond struct{ Task TaskKind }

func (e *ErrCannotMoveBeyond) Error() string {
	return fmt.Sprintf("pager: cannot move beyond with task %s", e.Task)
}

// ErrNotOpen is returned by PutRequest for any task but OPEN issued
// before a file has been opened.
var ErrNotOpen = fmt.Errorf("pager: open a file first")

// ErrBusy is returned by PutRequest while a previous task has not yet
// completed.
var ErrBusy = fmt.Errorf("pager: previous task still in progress")

// LogSession drives one `less` invocation over a Pty, translating
// page requests to keystrokes and tracking completion via anchors.
// It is not safe for concurrent use — its owning ClientLoop is the
// only goroutine that touches it.
type LogSession struct {
	pty  sshshell.Pty
	path string

	screen *screen.ScreenBuffer

	hasTask bool
	task    task

	launched     bool
	firstScreen  bool
	lastScreen   bool
}

// New creates a LogSession bound to an already-open PTY shell. path is
// the remote file `less` will be told to open.
func New(pty sshshell.Pty, path string, cols, rows int) *LogSession {
	return &LogSession{
		pty:         pty,
		path:        path,
		screen:      screen.New(cols, rows),
		firstScreen: true,
	}
}

// Launched reports whether `less` successfully opened the target file.
func (l *LogSession) Launched() bool { return l.launched }

// ExitStatusReady reports whether the underlying shell process has
// exited, meaning this session is no longer usable and should be torn
// down by the caller's idle sweep.
func (l *LogSession) ExitStatusReady() bool { return l.pty.ExitStatusReady() }

// PutRequest starts a new task, sending the keystrokes `less` expects
// and arming the anchors that mark its completion. It returns an error
// without sending anything if the request is out of order.
func (l *LogSession) PutRequest(kind TaskKind, posArg string) error {
	if l.hasTask {
		return ErrBusy
	}
	if l.firstScreen && kind == TaskBack {
		return &ErrCannotMoveBeyond{Task: kind}
	}
	if l.lastScreen && kind == TaskForward {
		return &ErrCannotMoveBeyond{Task: kind}
	}
	if !l.launched && kind != TaskOpen {
		return ErrNotOpen
	}

	t := taskFor(kind)
	rtlog.Info("pager: new task", "task", t.kind)
	l.hasTask = true
	l.task = t

	patterns := make([][]byte, len(t.anchors))
	for i, a := range t.anchors {
		patterns[i] = []byte(a)
	}
	l.screen.WaitForAnchors(patterns)

	if err := l.dispatch(kind, posArg); err != nil {
		l.hasTask = false
		return err
	}
	if kind == TaskPos {
		l.screen.SkipNextPrompt()
	}
	return nil
}

func (l *LogSession) dispatch(kind TaskKind, posArg string) error {
	flush(l.pty)
	switch kind {
	case TaskOpen:
		rtlog.Info("pager: launching less", "path", l.path)
		return writeAll(l.pty, "less "+l.path+"\n")
	case TaskForward:
		return writeAll(l.pty, "f")
	case TaskRedraw:
		return writeAll(l.pty, "r")
	case TaskBack:
		return writeAll(l.pty, "b")
	case TaskClose:
		l.launched = false
		return writeAll(l.pty, "q")
	case TaskPos:
		pct := parsePercent(posArg)
		return writeAll(l.pty, strconv.FormatFloat(pct, 'f', -1, 64)+"%")
	}
	return nil
}

func parsePercent(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 100 {
		rtlog.Warn("pager: invalid seek position, moving to 0%", "value", s)
		return 0
	}
	return v
}

// CheckResponse reads and processes one chunk of pending PTY output,
// if any is ready. It returns true when the in-flight task (if any)
// has completed, or immediately when there is no task in flight.
func (l *LogSession) CheckResponse() (bool, error) {
	var buf []byte
	if l.pty.ReadReady() {
		tmp := make([]byte, readChunkBytes)
		n, err := l.pty.Read(tmp)
		if err != nil {
			return false, err
		}
		buf = tmp[:n]
	}

	if !l.hasTask || len(buf) == 0 {
		return !l.hasTask, nil
	}

	anchorOnly := redrawAfterBack && (l.task.kind == TaskBack || l.task.kind == TaskPos)
	l.screen.PutData(buf, anchorOnly)
	if !l.screen.AnchorFound() {
		return false, nil
	}

	if l.task.kind == TaskForward || l.task.kind == TaskPos {
		l.firstScreen = false
	}
	if l.task.kind == TaskBack || l.task.kind == TaskPos {
		l.lastScreen = false
	}

	last := l.screen.LastAnchor()
	secondAnchor := []byte(l.task.anchors[1])
	if string(last) == string(secondAnchor) {
		switch l.task.kind {
		case TaskOpen, TaskForward, TaskPos:
			l.lastScreen = true
			rtlog.Info("pager: last screen reached")
		case TaskBack:
			l.firstScreen = true
			rtlog.Info("pager: first screen reached")
		}
	}

	if l.task.kind == TaskOpen {
		thirdAnchor := []byte(l.task.anchors[2])
		if string(last) != string(thirdAnchor) {
			rtlog.Info("pager: file is open")
			l.launched = true
		} else {
			rtlog.Warn("pager: file was not found", "path", l.path)
		}
	}

	if redrawAfterBack && (l.task.kind == TaskBack || l.task.kind == TaskPos) {
		l.hasTask = false
		if err := l.PutRequest(TaskRedraw, ""); err != nil {
			return false, err
		}
		return false, nil
	}

	l.hasTask = false
	rtlog.Info("pager: task complete", "lines", l.screen.LineCounter())
	return true, nil
}

// GetResult returns the rendered screen contents of the most recently
// completed task.
func (l *LogSession) GetResult() string {
	if l.hasTask {
		rtlog.Error("pager: GetResult called while a task is in progress")
	}
	return l.screen.Render()
}

// Close quits `less`, if running, and releases the PTY.
func (l *LogSession) Close() error {
	if l.launched {
		writeAll(l.pty, "q")
	}
	return l.pty.Close()
}

func flush(pty sshshell.Pty) {
	buf := make([]byte, readChunkBytes)
	for pty.ReadReady() {
		if _, err := pty.Read(buf); err != nil {
			return
		}
	}
}

func writeAll(pty sshshell.Pty, s string) error {
	_, err := pty.Write([]byte(s))
	return err
}
