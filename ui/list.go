package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/ansi"
)

const (
	succeededIcon = "✓ "
	failedIcon    = "✗ "
	killedIcon    = "■ "
)

var succeededStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#51bd73", Dark: "#51bd73"})

var failedStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#de613e"))

var killedStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#888888", Dark: "#888888"})

var titleStyle = lipgloss.NewStyle().
	Padding(1, 1, 0, 1).
	Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#dddddd"})

var listDescStyle = lipgloss.NewStyle().
	Padding(0, 1, 1, 1).
	Foreground(lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"})

var selectedTitleStyle = lipgloss.NewStyle().
	Padding(1, 1, 0, 1).
	Background(lipgloss.Color("#dde4f0")).
	Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#1a1a1a"})

var selectedDescStyle = lipgloss.NewStyle().
	Padding(0, 1, 1, 1).
	Background(lipgloss.Color("#dde4f0")).
	Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#1a1a1a"})

var mainTitle = lipgloss.NewStyle().
	Background(lipgloss.Color("62")).
	Foreground(lipgloss.Color("230"))

// ItemState is the lifecycle state of a listed producer.
type ItemState int

const (
	Idle ItemState = iota
	Running
	Succeeded
	Failed
	Killed
)

// Item is one producer key in the list.
type Item struct {
	Key string
	// Command is the command currently or last running.
	Command  string
	State    ItemState
	ExitCode int
	// Truncated is set when the buffer dropped old output.
	Truncated bool
}

type List struct {
	items         []*Item
	selectedIdx   int
	height, width int
	renderer      *ItemRenderer
}

func NewList(spinner *spinner.Model) *List {
	return &List{renderer: &ItemRenderer{spinner: spinner}}
}

// SetSize sets the height and width of the list.
func (l *List) SetSize(width, height int) {
	l.width = width
	l.height = height
	l.renderer.width = width
}

func (l *List) NumItems() int {
	return len(l.items)
}

// Add appends an item unless its key is listed already, and returns the listed item.
func (l *List) Add(item *Item) *Item {
	if existing := l.Find(item.Key); existing != nil {
		return existing
	}
	l.items = append(l.items, item)
	return item
}

// Find returns the item of key, or nil.
func (l *List) Find(key string) *Item {
	for _, item := range l.items {
		if item.Key == key {
			return item
		}
	}
	return nil
}

func (l *List) Up() {
	if l.selectedIdx > 0 {
		l.selectedIdx--
	}
}

func (l *List) Down() {
	if l.selectedIdx < len(l.items)-1 {
		l.selectedIdx++
	}
}

// Selected returns the selected item, or nil when the list is empty.
func (l *List) Selected() *Item {
	if len(l.items) == 0 {
		return nil
	}
	return l.items[l.selectedIdx]
}

// ItemRenderer handles rendering of list items
type ItemRenderer struct {
	spinner *spinner.Model
	width   int
}

func (r *ItemRenderer) Render(item *Item, idx int, selected bool) string {
	prefix := fmt.Sprintf(" %d. ", idx)
	titleS := selectedTitleStyle
	descS := selectedDescStyle
	if !selected {
		titleS = titleStyle
		descS = listDescStyle
	}

	var status string
	switch item.State {
	case Running:
		status = r.spinner.View() + " "
	case Succeeded:
		status = succeededStyle.Render(succeededIcon)
	case Failed:
		status = failedStyle.Render(failedIcon)
	case Killed:
		status = killedStyle.Render(killedIcon)
	}

	// Cut the title if it's too long
	widthAvail := r.width - 3 - runewidth.StringWidth(prefix) - ansi.PrintableRuneWidth(status)
	titleText := item.Key
	if widthAvail > 3 {
		titleText = runewidth.Truncate(titleText, widthAvail, "...")
	}
	title := titleS.Render(lipgloss.JoinHorizontal(
		lipgloss.Left,
		lipgloss.Place(max(r.width-3-ansi.PrintableRuneWidth(status), 0), 1, lipgloss.Left, lipgloss.Center, prefix+titleText),
		status,
	))

	desc := item.Command
	switch {
	case item.State == Failed:
		desc = fmt.Sprintf("exit %d: %s", item.ExitCode, desc)
	case item.Truncated:
		desc = "… " + desc
	}
	indent := strings.Repeat(" ", runewidth.StringWidth(prefix))
	if descWidth := r.width - 3 - len(indent); descWidth > 3 {
		desc = runewidth.Truncate(desc, descWidth, "...")
		desc = runewidth.FillRight(desc, descWidth)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		descS.Render(indent+desc),
	)
}

func (l *List) String() string {
	const titleText = " Processes "

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("\n")
	b.WriteString(lipgloss.Place(l.width, 1, lipgloss.Left, lipgloss.Bottom, mainTitle.Render(titleText)))
	b.WriteString("\n")
	b.WriteString("\n")

	// Render the list.
	for i, item := range l.items {
		b.WriteString(l.renderer.Render(item, i+1, i == l.selectedIdx))
		if i != len(l.items)-1 {
			b.WriteString("\n\n")
		}
	}
	return lipgloss.Place(l.width, l.height, lipgloss.Left, lipgloss.Top, b.String())
}
