package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/pkgsend/internal/bridge"
	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	TableView ViewState = iota
	ConfirmRemoveView
	DisconnectedView
)

// Source is the operator connection the monitor drives; [bridge.Client] implements it.
type Source interface {
	SyncTasks(ctx context.Context) ([]*models.Task, error)
	Install(ctx context.Context, item models.PackageItem) (*bridge.Reply, error)
	TaskInfo(ctx context.Context, name string, taskID *int64) (*bridge.Reply, error)
	Stop(ctx context.Context, name string, taskID *int64) (*bridge.Reply, error)
	Remove(ctx context.Context, name string) (*bridge.Reply, error)
	Events() <-chan bridge.Message
}

var _ Source = (*bridge.Client)(nil)

// Model represents the TUI application state.
type Model struct {
	ctx    context.Context
	view   ViewState
	source Source
	width  int
	height int
	table  table.Model
	tasks  []*models.Task
	notice *tasks.Notice
	err    error
	help   help.Model
	keys   keyMap
}

// NewModel creates a new TUI model reading from source.
func NewModel(ctx context.Context, source Source) *Model {
	t := table.New(
		table.WithColumns(taskColumns()),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	return &Model{
		ctx:    ctx,
		view:   TableView,
		source: source,
		table:  t,
		help:   help.New(),
		keys:   newKeyMap(),
	}
}

// Init loads the task table and starts listening for broadcasts.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.syncTasks(), m.waitForEvent())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(msg.Height-8, 3))
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ConfirmRemoveView:
			return m.handleConfirmKeys(msg)
		case DisconnectedView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		default:
			return m.handleTableKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgTasksSynced:
		res := msg.data.(syncResult)
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		m.err = nil
		m.tasks = res.tasks
		m.refreshRows()
		return m, nil

	case MsgBroadcast:
		m.applyEvent(msg.data.(bridge.Message))
		return m, m.waitForEvent()

	case MsgReply:
		res := msg.data.(replyResult)
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		m.err = nil
		m.applyReply(res.reply)
		return m, nil

	case MsgDisconnected:
		m.view = DisconnectedView
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render(fmt.Sprintf("pkgsend · %d tasks", len(m.tasks))))
	b.WriteString("\n")

	switch m.view {
	case DisconnectedView:
		b.WriteString(styles.err.Render("Bridge connection closed."))
		b.WriteString("\n\n")
		b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.quit}))
		return b.String()
	case ConfirmRemoveView:
		if t := m.selected(); t != nil {
			b.WriteString(styles.warn.Render(fmt.Sprintf("Remove %s from the task list?", t.Name)))
		}
		b.WriteString("\n\n")
		b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no}))
		return b.String()
	}

	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	if t := m.selected(); t != nil {
		b.WriteString(fmt.Sprintf("%s  %s\n", styles.Status(t.Status), styles.help.Render(t.Path)))
	}
	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	} else if m.notice != nil {
		b.WriteString(styles.Notice(*m.notice))
		b.WriteString("\n")
	}
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	return b.String()
}

func (m *Model) handleTableKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.sync):
		return m, m.syncTasks()
	}

	t := m.selected()
	if t != nil {
		switch {
		case key.Matches(msg, m.keys.install):
			return m, m.call(func(ctx context.Context) (*bridge.Reply, error) {
				return m.source.Install(ctx, models.PackageItem{Name: t.Name, Path: t.Path, TaskID: t.DeviceTaskID})
			})
		case key.Matches(msg, m.keys.refresh):
			return m, m.call(func(ctx context.Context) (*bridge.Reply, error) {
				return m.source.TaskInfo(ctx, t.Name, t.DeviceTaskID)
			})
		case key.Matches(msg, m.keys.stop):
			return m, m.call(func(ctx context.Context) (*bridge.Reply, error) {
				return m.source.Stop(ctx, t.Name, t.DeviceTaskID)
			})
		case key.Matches(msg, m.keys.remove):
			m.view = ConfirmRemoveView
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.view = TableView
		t := m.selected()
		if t == nil {
			return m, nil
		}
		return m, m.call(func(ctx context.Context) (*bridge.Reply, error) {
			return m.source.Remove(ctx, t.Name)
		})
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.quit):
		m.view = TableView
	}
	return m, nil
}

func (m *Model) selected() *models.Task {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.tasks) {
		return nil
	}
	return m.tasks[i]
}

// upsert replaces the task with the same name or appends it.
func (m *Model) upsert(t *models.Task) {
	for i, existing := range m.tasks {
		if existing.Name == t.Name {
			m.tasks[i] = t
			return
		}
	}
	m.tasks = append(m.tasks, t)
}

func (m *Model) drop(name string) {
	for i, existing := range m.tasks {
		if existing.Name == name {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return
		}
	}
}

func (m *Model) refreshRows() {
	rows := make([]table.Row, len(m.tasks))
	for i, t := range m.tasks {
		rows[i] = taskRow(t)
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m *Model) applyEvent(msg bridge.Message) {
	switch msg.Event {
	case bridge.EventUpdateTask:
		if t, err := bridge.TaskPayload(msg); err == nil {
			m.upsert(t)
		}
	case bridge.EventRemoveTask:
		var name string
		if err := msg.Decode(&name); err == nil {
			m.drop(name)
		}
	case bridge.EventAddTasks, bridge.EventSyncTasks:
		if ts, err := bridge.TasksPayload(msg); err == nil {
			for _, t := range ts {
				m.upsert(t)
			}
		}
	}
	m.refreshRows()
}

func (m *Model) applyReply(r *bridge.Reply) {
	if r == nil {
		return
	}
	for _, t := range r.Tasks {
		m.upsert(t)
	}
	for _, name := range r.Removed {
		m.drop(name)
	}
	if n := len(r.Notices); n > 0 {
		last := r.Notices[n-1]
		m.notice = &last
	}
	if len(r.Errors) > 0 {
		m.notice = &tasks.Notice{Type: tasks.NoticeError, Message: r.Errors[0]}
	}
	m.refreshRows()
}

func (m *Model) syncTasks() tea.Cmd {
	return func() tea.Msg {
		ts, err := m.source.SyncTasks(m.ctx)
		return tasksSyncedMsg(ts, err)
	}
}

func (m *Model) call(fn func(context.Context) (*bridge.Reply, error)) tea.Cmd {
	return func() tea.Msg {
		reply, err := fn(m.ctx)
		return replyMsg(reply, err)
	}
}

func (m *Model) waitForEvent() tea.Cmd {
	events := m.source.Events()
	return func() tea.Msg {
		select {
		case msg, ok := <-events:
			if !ok {
				return disconnectedMsg()
			}
			return broadcastMsg(msg)
		case <-m.ctx.Done():
			return disconnectedMsg()
		}
	}
}
