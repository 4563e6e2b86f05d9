// Package screen implements a minimal virtual terminal: a fixed-size
// character grid fed a raw PTY byte stream, tracking enough of the
// ANSI/VT100 escape repertoire that `less` and `ls` output render
// correctly, plus a byte-anchor matcher used to detect when a pager
// command has finished producing output.
//
// ScreenBuffer is not safe for concurrent use; each LogSession owns
// exactly one and feeds it from a single goroutine.
package screen

import (
	"bytes"
	"strconv"

	"github.com/katichev/rt-pager/internal/rtlog"
)

type escState int

const (
	escNone escState = iota
	escEsc
	escCSI
	escOSC
)

// anchorState tracks progress matching one candidate byte pattern
// against the incoming stream.
type anchorState struct {
	pattern []byte
	matched int
}

// ScreenBuffer is a cols x rows character grid with a 1-based cursor,
// plus the escape-sequence parser and anchor matcher needed to drive
// a pager session.
type ScreenBuffer struct {
	cols, rows int
	posx, posy int

	grid []*rowBuf
	wrap []bool

	esc    escState
	csiBuf []byte

	lineCounter int
	skipPrompt  bool

	anchors    []*anchorState
	lastAnchor []byte
}

// New allocates a blank cols x rows grid with the cursor at (1,1).
func New(cols, rows int) *ScreenBuffer {
	grid := make([]*rowBuf, rows)
	for i := range grid {
		grid[i] = newRowBuf()
	}
	return &ScreenBuffer{
		cols: cols,
		rows: rows,
		posx: 1,
		posy: 1,
		grid: grid,
		wrap: make([]bool, rows),
	}
}

func (s *ScreenBuffer) rowAt(y int) *rowBuf { return s.grid[y-1] }

// Pos returns the current cursor column and row, both 1-based.
func (s *ScreenBuffer) Pos() (x, y int) { return s.posx, s.posy }

// LineCounter returns the number of forward newlines processed so far;
// LogSession reports it when logging a completed task.
func (s *ScreenBuffer) LineCounter() int { return s.lineCounter }

// SkipNextPrompt arms a one-shot flag: the next anchor that would
// otherwise complete is instead treated as a false positive (its match
// progress resets to zero and scanning continues). This absorbs a
// prompt echo that happens to contain a registered anchor's bytes
// before the real completion marker arrives.
func (s *ScreenBuffer) SkipNextPrompt() { s.skipPrompt = true }

// WaitForAnchors arms the set of byte patterns that mark completion of
// the in-flight pager command. Zero-length patterns are never
// satisfiable as a distinct match and are silently dropped, matching
// the inherited behavior of the original pager plumbing.
func (s *ScreenBuffer) WaitForAnchors(patterns [][]byte) {
	s.anchors = s.anchors[:0]
	s.lastAnchor = nil
	for _, p := range patterns {
		if len(p) > 0 {
			s.anchors = append(s.anchors, &anchorState{pattern: p})
		}
	}
}

// AnchorFound reports whether every armed anchor has either matched or
// been withdrawn — i.e. whether PutData has seen its completion marker.
func (s *ScreenBuffer) AnchorFound() bool { return len(s.anchors) == 0 }

// LastAnchor returns the pattern that most recently completed a match,
// or nil if none has.
func (s *ScreenBuffer) LastAnchor() []byte { return s.lastAnchor }

// PutData feeds raw PTY output through the anchor matcher and, unless
// anchorOnly is set, also through the grid/escape-sequence parser.
// Processing this chunk stops immediately the moment an anchor
// completes — any trailing bytes in buf are discarded, mirroring the
// original plumbing's per-command read granularity.
func (s *ScreenBuffer) PutData(buf []byte, anchorOnly bool) {
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		found := s.feedAnchors(b)
		if !anchorOnly {
			s.putByte(b)
		}
		if found {
			s.esc = escNone
			break
		}
	}
}

func (s *ScreenBuffer) feedAnchors(b byte) bool {
	for _, a := range s.anchors {
		if b != a.pattern[a.matched] {
			a.matched = 0
			continue
		}
		a.matched++
		if a.matched != len(a.pattern) {
			continue
		}
		if s.skipPrompt {
			s.skipPrompt = false
			a.matched = 0
			continue
		}
		s.lastAnchor = a.pattern
		s.anchors = nil
		return true
	}
	return false
}

// putByte advances the escape parser or, for a plain printable byte,
// writes it into the grid at the cursor and advances the cursor.
func (s *ScreenBuffer) putByte(b byte) {
	if s.stepEscape(b) {
		return
	}
	switch b {
	case '\b':
		if s.posx == 1 {
			rtlog.Warn("screen: backspace at column 1")
			return
		}
		s.posx--
		s.truncateRowAt(s.posx)
		return
	case '\r':
		s.posx = 1
		return
	case '\n':
		s.newlineForward(false)
		return
	}

	if s.posx > s.cols {
		s.posx = 2
		s.newlineForward(true)
	} else {
		s.posx++
	}
	s.rowAt(s.posy).writeByte(b)
}

// truncateRowAt clips the current row to col-1 bytes (0-based length),
// used by CSI K (erase to end of line) and backspace.
func (s *ScreenBuffer) truncateRowAt(col int) {
	s.rowAt(s.posy).truncateAt(col - 1)
}

// newlineForward advances the cursor to the next row, scrolling the
// grid up when already on the bottom row. wrap records whether this
// newline was a genuine line feed (false) or an automatic line-wrap
// from a write past the right margin (true); it is stamped onto the
// row just completed, not the one about to be written.
func (s *ScreenBuffer) newlineForward(wrap bool) {
	s.lineCounter++
	if s.posy == s.rows {
		s.wrap[s.rows-1] = wrap

		newGrid := make([]*rowBuf, s.rows)
		copy(newGrid, s.grid[1:])
		newGrid[s.rows-1] = newRowBuf()
		s.grid = newGrid

		newWrap := make([]bool, s.rows)
		copy(newWrap, s.wrap[1:])
		s.wrap = newWrap
		return
	}
	s.wrap[s.posy-1] = wrap
	s.posy++
}

// newlineReverse moves the cursor up one row, scrolling the grid down
// and inserting a blank top row when already on row 1 (ESC M, reverse
// index — used by `less` to repaint without a full clear).
func (s *ScreenBuffer) newlineReverse() {
	if s.posy != 1 {
		s.posy--
		return
	}
	newGrid := make([]*rowBuf, s.rows)
	newGrid[0] = newRowBuf()
	copy(newGrid[1:], s.grid[:s.rows-1])
	s.grid = newGrid

	newWrap := make([]bool, s.rows)
	copy(newWrap[1:], s.wrap[:s.rows-1])
	s.wrap = newWrap
}

// safeMove applies a CSI H (cursor position) request, ignoring either
// axis that falls outside the grid rather than clamping it — an
// out-of-range axis in the PTY output is logged and otherwise
// ignored.
func (s *ScreenBuffer) safeMove(col, row int) {
	if col > 0 && col <= s.cols {
		s.posx = col
	} else {
		rtlog.Warn("screen: CSI H column out of range", "col", col)
	}
	if row > 0 && row <= s.rows {
		s.posy = row
	} else {
		rtlog.Warn("screen: CSI H row out of range", "row", row)
	}
}

// stepEscape feeds one byte to the ANSI escape-sequence state machine.
// It returns true if the byte was consumed by the parser (i.e. it is
// not a plain grid byte).
func (s *ScreenBuffer) stepEscape(b byte) bool {
	switch s.esc {
	case escNone:
		if b == 0x1B {
			s.esc = escEsc
			return true
		}
		return false

	case escEsc:
		switch b {
		case '=', '>':
			s.esc = escNone
		case 'M':
			s.newlineReverse()
			s.esc = escNone
		case '[':
			s.csiBuf = s.csiBuf[:0]
			s.esc = escCSI
		case ']':
			s.esc = escOSC
		default:
			rtlog.Warn("screen: unhandled ESC sequence", "byte", b)
			s.esc = escNone
		}
		return true

	case escCSI:
		if isCSIFinal(b) {
			s.applyCSI(b)
			s.esc = escNone
		} else {
			s.csiBuf = append(s.csiBuf, b)
		}
		return true

	case escOSC:
		switch b {
		case 0x07:
			s.esc = escNone
		case 0x1B:
			s.esc = escEsc
		}
		return true
	}
	return false
}

func isCSIFinal(b byte) bool {
	return (b >= 0x40 && b <= 0x5A) || (b >= 0x60 && b <= 0x7E)
}

func (s *ScreenBuffer) applyCSI(final byte) {
	switch {
	case final == 'K' && len(s.csiBuf) == 0:
		s.truncateRowAt(s.posx)
	case final == 'H':
		row, col := parseCSIPos(s.csiBuf)
		s.safeMove(col, row)
	default:
		rtlog.Warn("screen: unhandled CSI sequence", "final", string(final), "params", string(s.csiBuf))
	}
}

// parseCSIPos parses a "row;col" CSI H parameter block; either half
// may be empty and defaults to 1. A parameter block with no
// separating ';' yields (1,1).
func parseCSIPos(buf []byte) (row, col int) {
	row, col = 1, 1
	parts := bytes.SplitN(buf, []byte(";"), 2)
	if len(parts) != 2 {
		return row, col
	}
	if len(parts[0]) > 0 {
		if v, err := strconv.Atoi(string(parts[0])); err == nil {
			row = v
		}
	}
	if len(parts[1]) > 0 {
		if v, err := strconv.Atoi(string(parts[1])); err == nil {
			col = v
		}
	}
	return row, col
}

// CurrentLine returns the contents of the row the cursor is on.
func (s *ScreenBuffer) CurrentLine() string {
	return string(s.rowAt(s.posy).value())
}

// Render renders all but the last grid row (the bottom row is reserved
// for the pager's status line and never belongs in paged output),
// joining rows with a newline except where a row's wrap flag records
// that the following row is its continuation rather than a new line.
func (s *ScreenBuffer) Render() string {
	var buf bytes.Buffer
	for i := 0; i < s.rows-1; i++ {
		buf.Write(s.grid[i].value())
		if !s.wrap[i] {
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// String implements fmt.Stringer for debug logging, showing the grid
// exactly as Render does.
func (s *ScreenBuffer) String() string { return s.Render() }
