package ui

import (
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/termenv"
)

// OverlayOption styles the whitespace written where the background is too short.
type OverlayOption func(*whitespace)

// WithWhitespaceChars fills gaps with chars instead of spaces.
func WithWhitespaceChars(chars string) OverlayOption {
	return func(w *whitespace) {
		w.chars = chars
	}
}

// WithWhitespaceForeground colors the gap fill.
func WithWhitespaceForeground(c termenv.Color) OverlayOption {
	return func(w *whitespace) {
		w.style = w.style.Foreground(c)
	}
}

var colorSeqRegex = regexp.MustCompile(`\x1b\[(?:38|48);[25];[0-9;]+m|\x1b\[[0-9]+m`)

// dim grays out the colors of line. Resets are kept.
func dim(line string) string {
	return colorSeqRegex.ReplaceAllStringFunc(line, func(seq string) string {
		switch {
		case seq == "\x1b[0m":
			return seq
		case strings.HasPrefix(seq, "\x1b[48;"):
			return "\x1b[48;5;236m"
		default:
			return "\x1b[38;5;240m"
		}
	})
}

// getLines splits s into lines and returns the printable width of the widest.
func getLines(s string) (lines []string, widest int) {
	lines = strings.Split(s, "\n")
	for _, l := range lines {
		widest = max(widest, ansi.PrintableRuneWidth(l))
	}
	return lines, widest
}

// PlaceOverlay draws fg centered on a dimmed bg. If fg doesn't fit inside bg, fg is
// returned alone.
func PlaceOverlay(fg, bg string, opts ...OverlayOption) string {
	fgLines, fgWidth := getLines(fg)
	bgLines, bgWidth := getLines(bg)
	fgHeight, bgHeight := len(fgLines), len(bgLines)
	if fgWidth >= bgWidth || fgHeight >= bgHeight {
		return fg
	}

	ws := &whitespace{style: termenv.ANSI256.String()}
	for _, opt := range opts {
		opt(ws)
	}

	x := (bgWidth - fgWidth) / 2
	y := (bgHeight - fgHeight) / 2

	var b strings.Builder
	for i, bgLine := range bgLines {
		if i > 0 {
			b.WriteByte('\n')
		}
		bgLine = dim(bgLine)
		if i < y || i >= y+fgHeight {
			b.WriteString(bgLine)
			continue
		}

		left := truncate.String(bgLine, uint(x))
		pos := ansi.PrintableRuneWidth(left)
		b.WriteString(left)
		if pos < x {
			b.WriteString(ws.render(x - pos))
			pos = x
		}

		fgLine := fgLines[i-y]
		b.WriteString(fgLine)
		pos += ansi.PrintableRuneWidth(fgLine)

		right := cutLeft(bgLine, pos)
		if gap := ansi.PrintableRuneWidth(bgLine) - ansi.PrintableRuneWidth(right) - pos; gap > 0 {
			b.WriteString(ws.render(gap))
		}
		b.WriteString(right)
	}
	return b.String()
}

// cutLeft returns what remains of s after its first width cells, prefixed with the escape
// sequence in effect at the cut.
func cutLeft(s string, width int) string {
	var (
		pos   int
		inEsc bool
		seq   strings.Builder
		style string
	)
	for i, c := range s {
		if inEsc || c == ansi.Marker {
			inEsc = true
			seq.WriteRune(c)
			if ansi.IsTerminator(c) {
				inEsc = false
				style = seq.String()
				if strings.HasSuffix(style, "[0m") {
					style = ""
				}
				seq.Reset()
			}
			continue
		}
		if pos >= width {
			return style + s[i:]
		}
		pos += runewidth.RuneWidth(c)
	}
	return ""
}

type whitespace struct {
	style termenv.Style
	chars string
}

// render returns width cells of the whitespace chars.
func (w whitespace) render(width int) string {
	if w.chars == "" {
		w.chars = " "
	}

	r := []rune(w.chars)
	var b strings.Builder
	for i, j := 0, 0; i < width; j = (j + 1) % len(r) {
		b.WriteRune(r[j])
		i += runewidth.RuneWidth(r[j])
	}
	return w.style.Styled(b.String())
}
