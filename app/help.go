package app

import (
	"github.com/charmbracelet/lipgloss"

	"squadstream/config"
	"squadstream/log"
)

// helpScreenGeneral is the bit of the general help screen in the seen bitmask.
const helpScreenGeneral uint32 = 1 << 0

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true).Foreground(lipgloss.Color("#7D56F4"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#36CFC9"))
	keyStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFCC00"))
	descStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))

	helpBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(1, 2)
)

func helpContent() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("squadstream"),
		"",
		"Runs commands and streams their output as it arrives.",
		"",
		headerStyle.Render("Navigating:"),
		keyStyle.Render("↑/k, ↓/j")+descStyle.Render(" - Select a process"),
		"",
		headerStyle.Render("Managing:"),
		keyStyle.Render("↵/r")+descStyle.Render("      - Run the selected commands again, replacing a live run"),
		keyStyle.Render("d")+descStyle.Render("        - Kill the selected process and its children"),
		keyStyle.Render("c")+descStyle.Render("        - Clear the selected output"),
		keyStyle.Render("y")+descStyle.Render("        - Copy the selected output to the clipboard"),
		"",
		headerStyle.Render("Other:"),
		keyStyle.Render("?")+descStyle.Render("        - Show this help"),
		keyStyle.Render("q")+descStyle.Render("        - Quit, killing everything still running"),
	)
}

// showHelpOnce shows the help screen when state has not recorded it as seen.
func (m *home) showHelpOnce(state config.AppState) {
	if state == nil {
		return
	}
	m.appState = state
	if state.GetHelpScreensSeen()&helpScreenGeneral == 0 {
		m.showHelp = true
	}
}

func (m *home) markHelpSeen() {
	if m.appState == nil {
		return
	}
	seen := m.appState.GetHelpScreensSeen()
	if seen&helpScreenGeneral != 0 {
		return
	}
	if err := m.appState.SetHelpScreensSeen(seen | helpScreenGeneral); err != nil {
		log.WarningLog.Printf("failed to save help screen state: %v", err)
	}
}
