package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"squadstream/output"
)

const fallBackText = "No output yet."

var previewPaneStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#dddddd"})

var commandStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#7D56F4"))

var truncatedStyle = lipgloss.NewStyle().
	Italic(true).
	Foreground(lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"})

type PreviewPane struct {
	width  int
	height int

	// lines is the rendered buffer, one terminal line per element, ANSI codes included
	lines []string
}

func NewPreviewPane() *PreviewPane {
	return &PreviewPane{}
}

func (p *PreviewPane) SetSize(width, maxHeight int) {
	p.width = width
	p.height = maxHeight
}

// SetEntries replaces the content with a buffer snapshot.
func (p *PreviewPane) SetEntries(entries []output.Entry) {
	p.lines = renderEntries(entries)
}

// renderEntries turns buffer entries into display lines. Data entries are concatenated
// before splitting, since one line may arrive in several chunks.
func renderEntries(entries []output.Entry) []string {
	var lines []string
	var data strings.Builder
	flush := func() {
		if data.Len() == 0 {
			return
		}
		text := strings.TrimSuffix(data.String(), "\n")
		for _, line := range strings.Split(text, "\n") {
			lines = append(lines, overwrite(line))
		}
		data.Reset()
	}

	for _, e := range entries {
		switch e.Kind {
		case output.EntryData:
			data.WriteString(e.Data)
		case output.EntryCommandStart:
			flush()
			lines = append(lines, commandStyle.Render("$ "+e.Command))
		case output.EntryTruncated:
			flush()
			lines = append(lines, truncatedStyle.Render("… earlier output truncated"))
		}
	}
	flush()
	return lines
}

// overwrite applies carriage returns the way a terminal would for progress output: the
// text after the last \r wins.
func overwrite(line string) string {
	line = strings.TrimSuffix(line, "\r")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		return line[i+1:]
	}
	return line
}

// String shows the last lines that fit.
func (p *PreviewPane) String() string {
	if p.width == 0 || p.height == 0 {
		return strings.Repeat("\n", p.height)
	}
	if len(p.lines) == 0 {
		return previewPaneStyle.
			Width(p.width).
			Height(p.height).
			Align(lipgloss.Center, lipgloss.Center).
			Render(fallBackText)
	}

	lines := p.lines
	if len(lines) > p.height {
		lines = lines[len(lines)-p.height:]
	}
	visible := make([]string, len(lines), p.height)
	for i, line := range lines {
		visible[i] = truncate.StringWithTail(line, uint(p.width), "…")
	}
	// Pad with empty lines to fill available height
	for len(visible) < p.height {
		visible = append(visible, "")
	}
	return previewPaneStyle.Width(p.width).Render(strings.Join(visible, "\n"))
}
