package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"squadstream/config"
	"squadstream/events"
	"squadstream/keys"
	"squadstream/log"
	"squadstream/output"
	"squadstream/render"
	"squadstream/subscription"
	"squadstream/supervisor"
	"squadstream/ui"
	"squadstream/watch"
)

// RunSpec is one producer started by the view.
type RunSpec struct {
	Key      string   `json:"key"`
	Commands []string `json:"commands"`
	WorkDir  string   `json:"work_dir,omitempty"`
	// Terminal runs the commands chained on a pseudo terminal instead of one by one.
	Terminal bool `json:"terminal,omitempty"`
}

// Options configures Run.
type Options struct {
	Config *config.Config
	Runs   []RunSpec
	// WatchDir publishes file and git status changes of this directory when set.
	WatchDir string
	// Web serves the same buffers and events over HTTP while the view runs.
	Web bool
	// State records which help screens were seen. Nil shows no help on start.
	State config.AppState
}

// Run is the main entrypoint into the application. It shows the output of the runs until
// the user quits, then kills whatever is still running.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	buffers := output.NewRegistry(cfg.BufferMaxChars, cfg.BufferMaxEntries)
	hub := events.NewHub()
	sup := supervisor.New(buffers, hub, supervisor.Options{
		Shell:           cfg.DefaultShell,
		ExtraPath:       cfg.ExtraPath,
		KillGracePeriod: cfg.KillGracePeriod(),
	})
	defer sup.KillAll()
	bridge := subscription.NewBridge(hub, subscription.Options{
		BatchDelay:    cfg.BatchDelay(),
		HighWaterMark: cfg.SubscriptionHighWaterMark,
	})
	defer bridge.Close()

	var p *tea.Program
	// Clear notifies from inside Update, so frames are sent without blocking the caller.
	throttle := render.NewThrottle(buffers, cfg.FrameInterval(), func(key string) {
		go p.Send(frameMsg{key: key})
	})
	throttle.Attach(hub)
	defer throttle.Stop()

	m := newHome(ctx, sup, buffers, throttle, opts.Runs)
	m.showHelpOnce(opts.State)
	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	sub := bridge.Subscribe(statusFilter, subscription.Policy{Delivery: subscription.Immediate})
	go func() {
		for e := range sub.Events(ctx) {
			p.Send(hubMsg{event: e})
		}
	}()

	if opts.WatchDir != "" {
		go func() {
			if err := watch.Run(ctx, hub, opts.WatchDir, cfg.WatchInterval()); err != nil {
				log.ErrorLog.Printf("error watching %s: %v", opts.WatchDir, err)
			}
		}()
	}

	if opts.Web {
		server, err := StartWebServer(cfg, buffers, hub, sup, throttle)
		if err != nil {
			return err
		}
		defer StopWebServer(server)
	}

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// statusFilter selects the events that change list state rather than output.
var statusFilter = subscription.Filter{
	Channels: []events.Channel{events.ChannelScriptOutput, events.ChannelStatusChange},
	Match: func(e events.Event) bool {
		if p, ok := e.Payload.(events.ScriptOutput); ok {
			return p.Type == events.ScriptCommandStart
		}
		return true
	},
}

type home struct {
	ctx context.Context

	quitting bool
	showHelp bool
	// appState marks the help screen seen once it is dismissed.
	appState config.AppState

	// ui components
	list    *ui.List
	preview *ui.PreviewPane
	menu    *ui.Menu
	errBox  *ui.ErrBox
	// global spinner instance. we plumb this down to where it's needed
	spinner spinner.Model

	sup      *supervisor.Supervisor
	buffers  *output.Registry
	throttle *render.Throttle

	// copyText writes to the system clipboard.
	copyText func(string) error

	runs map[string]RunSpec
	// generation counts the starts per key, so the result of a replaced run is ignored.
	generation map[string]int
	order      []string

	windowWidth  int
	windowHeight int
}

func newHome(ctx context.Context, sup *supervisor.Supervisor, buffers *output.Registry, throttle *render.Throttle, runs []RunSpec) *home {
	h := &home{
		ctx:        ctx,
		spinner:    spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		menu:       ui.NewMenu(),
		errBox:     ui.NewErrBox(),
		preview:    ui.NewPreviewPane(),
		sup:        sup,
		buffers:    buffers,
		throttle:   throttle,
		copyText:   clipboard.WriteAll,
		runs:       make(map[string]RunSpec),
		generation: make(map[string]int),
	}
	h.list = ui.NewList(&h.spinner)
	for _, run := range runs {
		h.runs[run.Key] = run
		h.order = append(h.order, run.Key)
		h.list.Add(&ui.Item{Key: run.Key})
	}
	h.menu.SetHasItems(len(runs) > 0)
	return h
}

// updateHandleWindowSizeEvent sets the sizes of the components.
// The components will try to render inside their bounds.
func (m *home) updateHandleWindowSizeEvent(msg tea.WindowSizeMsg) {
	m.windowWidth, m.windowHeight = msg.Width, msg.Height

	// List takes 30% of width, preview takes 70%
	listWidth := int(float32(msg.Width) * 0.3)
	previewWidth := msg.Width - listWidth

	// Menu takes 10% of height, list and preview take 90%
	contentHeight := int(float32(msg.Height) * 0.9)
	menuHeight := msg.Height - contentHeight - 1

	m.preview.SetSize(previewWidth, contentHeight)
	m.list.SetSize(listWidth, contentHeight)
	m.menu.SetSize(msg.Width, menuHeight)
	m.errBox.SetSize(msg.Width, 1)
	m.updatePreview()

	// Terminals follow the preview size.
	for key, run := range m.runs {
		if run.Terminal {
			if err := m.sup.Resize(key, previewWidth, contentHeight); err != nil && !errors.Is(err, supervisor.ErrNoProcess) {
				log.WarningLog.Printf("could not resize %s: %v", key, err)
			}
		}
	}
}

func (m *home) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	for _, key := range m.order {
		cmds = append(cmds, m.start(key))
	}
	return tea.Batch(cmds...)
}

func (m *home) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case hideErrMsg:
		m.errBox.Clear()
	case keydownClearMsg:
		m.menu.ClearKeydown()
	case frameMsg:
		m.refresh(msg.key)
	case hubMsg:
		return m.handleEvent(msg.event)
	case runDoneMsg:
		return m.handleRunDone(msg)
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.updateHandleWindowSizeEvent(msg)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *home) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// Any key press closes the help screen.
		m.showHelp = false
		m.markHelpSeen()
		return m, nil
	}

	name, ok := keys.GlobalKeyStringsMap[msg.String()]
	if !ok {
		return m, nil
	}

	model, cmd := m.handleKey(name)
	if name == keys.KeyQuit || name == keys.KeyHelp {
		return model, cmd
	}
	m.menu.Keydown(name)
	return model, tea.Batch(cmd, keydownCallback)
}

// keydownCallback clears the menu highlight of a pressed key after a short while.
func keydownCallback() tea.Msg {
	time.Sleep(500 * time.Millisecond)
	return keydownClearMsg{}
}

func (m *home) handleKey(name keys.KeyName) (tea.Model, tea.Cmd) {
	switch name {
	case keys.KeyQuit:
		m.quitting = true
		return m, tea.Quit
	case keys.KeyHelp:
		m.showHelp = true
		return m, nil
	case keys.KeyUp:
		m.list.Up()
		m.updatePreview()
		return m, nil
	case keys.KeyDown:
		m.list.Down()
		m.updatePreview()
		return m, nil
	}

	selected := m.list.Selected()
	if selected == nil {
		return m, nil
	}
	switch name {
	case keys.KeyRerun:
		return m, m.start(selected.Key)
	case keys.KeyKill:
		key := selected.Key
		return m, func() tea.Msg {
			m.sup.KillProcess(key)
			return nil
		}
	case keys.KeyClear:
		m.throttle.Clear(selected.Key)
		m.updatePreview()
	case keys.KeyCopy:
		return m.copyOutput(selected.Key)
	}
	return m, nil
}

// copyOutput puts the data of key's buffer on the clipboard.
func (m *home) copyOutput(key string) (tea.Model, tea.Cmd) {
	buf, ok := m.buffers.Lookup(key)
	if !ok || buf.Len() == 0 {
		m.errBox.SetInfo(fmt.Sprintf("nothing to copy for %s", key))
		return m, m.hideErrAfter()
	}
	if err := m.copyText(buf.String()); err != nil {
		return m.showErrorMessageForShortTime(fmt.Errorf("failed to copy output of %s: %w", key, err))
	}
	m.errBox.SetInfo(fmt.Sprintf("copied output of %s", key))
	return m, m.hideErrAfter()
}

// start marks key running and returns the command that runs it to completion.
func (m *home) start(key string) tea.Cmd {
	run, ok := m.runs[key]
	if !ok {
		return nil
	}
	m.generation[key]++
	gen := m.generation[key]
	if item := m.list.Find(key); item != nil {
		item.State = ui.Running
		item.ExitCode = 0
	}

	ctx, sup := m.ctx, m.sup
	cols := m.windowWidth - int(float32(m.windowWidth)*0.3)
	rows := int(float32(m.windowHeight) * 0.9)
	return func() tea.Msg {
		return runDoneMsg{key: key, generation: gen, result: Execute(ctx, sup, run, cols, rows)}
	}
}

// Execute runs the commands of run to completion. A terminal run gets a cols by rows pseudo terminal.
func Execute(ctx context.Context, sup *supervisor.Supervisor, run RunSpec, cols, rows int) supervisor.Result {
	if !run.Terminal {
		return sup.RunSequential(ctx, run.Commands, run.WorkDir, run.Key, supervisor.RunOptions{})
	}

	h, err := sup.RunPersistent(run.Commands, run.WorkDir, run.Key, supervisor.PersistentOptions{Cols: cols, Rows: rows})
	if err != nil {
		return supervisor.Result{ExitCode: -1, Err: err}
	}
	stop := context.AfterFunc(ctx, func() { sup.KillProcess(run.Key) })
	defer stop()

	<-h.Done()
	code := h.ExitCode()
	res := supervisor.Result{Success: code == 0, ExitCode: code}
	if h.Killed() {
		res.Success = false
		res.Err = supervisor.ErrKilled
	}
	return res
}

func (m *home) handleRunDone(msg runDoneMsg) (tea.Model, tea.Cmd) {
	if m.generation[msg.key] != msg.generation {
		return m, nil
	}
	item := m.list.Find(msg.key)
	if item == nil {
		return m, nil
	}

	res := msg.result
	item.ExitCode = res.ExitCode
	var spawnErr *supervisor.SpawnError
	switch {
	case res.Success:
		item.State = ui.Succeeded
	case errors.Is(res.Err, supervisor.ErrKilled), errors.Is(res.Err, context.Canceled):
		item.State = ui.Killed
	case errors.As(res.Err, &spawnErr):
		item.State = ui.Failed
		return m.showErrorMessageForShortTime(spawnErr)
	default:
		item.State = ui.Failed
	}
	return m, nil
}

func (m *home) handleEvent(e events.Event) (tea.Model, tea.Cmd) {
	switch p := e.Payload.(type) {
	case events.ScriptOutput:
		if item := m.list.Find(e.Key); item != nil {
			item.Command = p.Command
		}
	case events.StatusChange:
		m.errBox.SetInfo(fmt.Sprintf("git status of %s changed", p.Path))
		return m, m.hideErrAfter()
	}
	return m, nil
}

// refresh updates the list entry of key and, when it is selected, the preview.
func (m *home) refresh(key string) {
	if item := m.list.Find(key); item != nil {
		if buf, ok := m.buffers.Lookup(key); ok {
			item.Truncated = buf.Truncated()
		}
	}
	if selected := m.list.Selected(); selected != nil && selected.Key == key {
		m.updatePreview()
	}
}

// updatePreview updates the preview pane with the buffer of the selected key
func (m *home) updatePreview() {
	selected := m.list.Selected()
	if selected == nil {
		m.preview.SetEntries(nil)
		return
	}
	buf, ok := m.buffers.Lookup(selected.Key)
	if !ok {
		m.preview.SetEntries(nil)
		return
	}
	m.preview.SetEntries(buf.ToArray())
}

// frameMsg is sent by the render throttle when the buffer of key should be redrawn.
type frameMsg struct {
	key string
}

// hubMsg carries a status event from the hub.
type hubMsg struct {
	event events.Event
}

// runDoneMsg reports the end of one start of a run.
type runDoneMsg struct {
	key        string
	generation int
	result     supervisor.Result
}

type keydownClearMsg struct{}

// hideErrMsg implements tea.Msg and clears the error text from the screen.
type hideErrMsg struct{}

// showErrorMessageForShortTime sets the error message and clears it after a while.
func (m *home) showErrorMessageForShortTime(err error) (tea.Model, tea.Cmd) {
	m.errBox.SetError(err)
	return m, m.hideErrAfter()
}

func (m *home) hideErrAfter() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
		case <-time.After(3 * time.Second):
		}
		return hideErrMsg{}
	}
}

func (m *home) View() string {
	listAndPreview := lipgloss.JoinHorizontal(lipgloss.Top, m.list.String(), m.preview.String())
	mainView := lipgloss.JoinVertical(
		lipgloss.Center,
		listAndPreview,
		m.menu.String(),
		m.errBox.String(),
	)

	if m.showHelp {
		return ui.PlaceOverlay(helpBoxStyle.Render(helpContent()), mainView)
	}
	return mainView
}
