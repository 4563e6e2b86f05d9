package screen

import "testing"

func TestAnchorFound(t *testing.T) {
	cases := []struct {
		name    string
		anchors []string
		data    string
		want    bool
	}{
		{"substring", []string{"abc"}, "xyzabczyz", true},
		{"exact", []string{"abc"}, "abc", true},
		{"single esc byte", []string{"\x1b"}, "\x1b", true},
		{"csi prefix", []string{"\x1b[?"}, "xyz\x1b[?zyz", true},
		{"spans esc", []string{"a\x1bbcdefgh"}, "xyza\x1bbcdefghzyz", true},
		{"missing byte", []string{"abc"}, "xyzabzyz", false},
		{"never appears", []string{"aa x1b 23"}, "aa \x1b 23", false},
		{"second of two patterns", []string{"aa", "bb"}, "ababb", true},
		{"end marker among two", []string{"(END) \x1b", "long"}, "a (END) \x1b[K", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sb := New(80, 24)
			patterns := make([][]byte, len(tc.anchors))
			for i, a := range tc.anchors {
				patterns[i] = []byte(a)
			}
			sb.WaitForAnchors(patterns)
			sb.PutData([]byte(tc.data), false)
			if got := sb.AnchorFound(); got != tc.want {
				t.Errorf("AnchorFound() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCursorPosition(t *testing.T) {
	cases := []struct {
		name           string
		x, y           int
		data           string
		wantX, wantY   int
	}{
		{"fills exactly to margin+1", 1, 1, "1234567890", 11, 1},
		{"short write", 1, 1, "123", 4, 1},
		{"single byte mid row", 1, 10, "a", 2, 10},
		{"fills row on arbitrary row", 1, 10, "1234567890", 11, 10},
		{"backspace erases last write", 1, 1, "backspace! \x08", 1, 2},
		{"backspace then crlf", 1, 1, "backspace! \x08\r\n", 1, 3},
		{"bare crlf", 1, 1, "\r\n", 1, 2},
		{"crlf resets column regardless of start", 10, 1, "\r\n", 1, 2},
		{"bare cr", 5, 1, "\r", 1, 1},
		{"bare lf keeps column", 5, 1, "\n", 5, 2},
		{"wrap then crlf then byte", 10, 1, "a\r\nb", 2, 2},
		{"reverse index from row 1", 1, 1, "abc\x1bM", 4, 1},
		{"reverse index from row 3", 1, 3, "abc\x1bM", 4, 2},
		{"cup with no params goes home", 1, 3, "abc\x1b[H", 1, 1},
		{"cup with row;col", 1, 3, "abc\x1b[10;4H", 4, 10},
		{"cr then erase to eol leaves position", 1, 10, "abc\r\x1b[K", 1, 10},
		{"reverse index between writes from row 5", 1, 5, "a\x1bMbc", 4, 4},
		{"reverse index between writes at top", 1, 1, "a\x1bMbc", 4, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sb := New(10, 10)
			sb.posx, sb.posy = tc.x, tc.y
			sb.PutData([]byte(tc.data), false)
			if sb.posx != tc.wantX || sb.posy != tc.wantY {
				t.Errorf("pos = (%d,%d), want (%d,%d)", sb.posx, sb.posy, tc.wantX, tc.wantY)
			}
		})
	}
}

func TestRender(t *testing.T) {
	cases := []struct {
		name string
		x, y int
		data string
		want string
	}{
		{"single byte", 1, 1, "a", "a\n\n\n\n"},
		{"fills row exactly", 1, 1, "1234567890", "1234567890\n\n\n\n"},
		{"backspace truncates tail", 1, 1, "1234567890 \x08ab", "1234567890ab\n\n\n"},
		{"esc equals sequence is absorbed", 1, 1, "\x1b=", "\n\n\n\n"},
		{"repeated crlf", 1, 1, "a\r\na\r\na\r\na\r\na", "a\na\na\na\n"},
		{"full row then crlf", 1, 1, "0123456789\r\nb", "0123456789\nb\n\n\n"},
		{"reverse index inserts blank row above", 1, 1, "abc\x1bM", "\nabc\n\n\n"},
		{"cup then erase to eol", 1, 1, "abcde\x1b[1;2H\x1b[K", "a\n\n\n\n"},
		{"cr then erase to eol on row 5", 1, 5, "abc\r\x1b[K", "\n\n\n\n"},
		{"unhandled csi passes through ignored", 1, 1, "a\x1b=b", "ab\n\n\n\n"},
		{"unhandled private mode csi", 1, 1, "a\x1b[?1049l", "a\n\n\n\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sb := New(10, 5)
			sb.posx, sb.posy = tc.x, tc.y
			sb.PutData([]byte(tc.data), false)
			if got := sb.Render(); got != tc.want {
				t.Errorf("Render() = %q, want %q", got, tc.want)
			}
		})
	}
}

// TestWrapLastLine reproduces the scroll-at-bottom-row case: writing
// past the right margin on the last row must scroll the whole wrap
// vector up by one, stamping the wrap flag on the row that was just
// completed rather than the freshly scrolled-in row.
func TestWrapLastLine(t *testing.T) {
	sb := New(10, 5)
	sb.posx, sb.posy = 1, 5
	sb.wrap = []bool{true, false, false, true, false}
	sb.PutData([]byte("0123456789a"), false)

	want := []bool{false, false, true, true, false}
	for i := range want {
		if sb.wrap[i] != want[i] {
			t.Errorf("wrap[%d] = %v, want %v (full: %v)", i, sb.wrap[i], want[i], sb.wrap)
			break
		}
	}
}

// TestAnchorOnlyStopsAtMatch confirms PutData halts scanning the
// moment an anchor completes, leaving the remainder of the chunk
// unconsumed by the grid parser too.
func TestAnchorOnlyStopsAtMatch(t *testing.T) {
	sb := New(10, 5)
	sb.WaitForAnchors([][]byte{[]byte("X")})
	sb.PutData([]byte("abXdef"), false)
	if !sb.AnchorFound() {
		t.Fatal("expected anchor to be found")
	}
	if got := sb.Render(); got != "ab\n\n\n\n" {
		t.Errorf("Render() = %q, want %q (trailing bytes after anchor must not be processed)", got, "ab\n\n\n\n")
	}
}

func TestSkipNextPromptResetsFalsePositive(t *testing.T) {
	sb := New(80, 24)
	sb.SkipNextPrompt()
	sb.WaitForAnchors([][]byte{[]byte("ready")})
	sb.PutData([]byte("ready"), true)
	if sb.AnchorFound() {
		t.Fatal("first occurrence after SkipNextPrompt must be absorbed, not counted")
	}
	sb.PutData([]byte("ready"), true)
	if !sb.AnchorFound() {
		t.Fatal("second occurrence must complete the match")
	}
}
