package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

type ErrBox struct {
	height, width int
	err           error
	infoMessage   string
}

var errStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
	Light: "#FF0000",
	Dark:  "#FF0000",
})

var infoStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
	Light: "#008000",
	Dark:  "#00FF00",
})

func NewErrBox() *ErrBox {
	return &ErrBox{}
}

func (e *ErrBox) SetError(err error) {
	e.err = err
}

func (e *ErrBox) Clear() {
	e.err = nil
	e.infoMessage = ""
}

func (e *ErrBox) SetInfo(message string) {
	e.infoMessage = message
	e.err = nil
}

func (e *ErrBox) SetSize(width, height int) {
	e.width = width
	e.height = height
}

// oneLine joins message lines and cuts the result to the box width.
func (e *ErrBox) oneLine(text string) string {
	text = strings.Join(strings.Split(text, "\n"), "//")
	if e.width-3 >= 0 {
		text = runewidth.Truncate(text, e.width, "...")
	}
	return text
}

func (e *ErrBox) String() string {
	switch {
	case e.err != nil:
		return lipgloss.Place(e.width, e.height, lipgloss.Center, lipgloss.Center, errStyle.Render(e.oneLine(e.err.Error())))
	case e.infoMessage != "":
		return lipgloss.Place(e.width, e.height, lipgloss.Center, lipgloss.Center, infoStyle.Render(e.oneLine(e.infoMessage)))
	}
	// No message to display
	return lipgloss.Place(e.width, e.height, lipgloss.Center, lipgloss.Center, "")
}
