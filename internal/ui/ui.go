package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/darkroom/internal/formatter"
	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	SessionListView ViewState = iota
	ConfirmView
	NotificationView
)

const (
	activityLines   = 8
	refreshInterval = time.Second
)

// Sessions lists the sessions shown in the monitor.
type Sessions interface {
	List(ctx context.Context, includeArchived bool) ([]*models.Session, error)
}

// Jobs is the subset of [tasks.Manager] the monitor drives.
type Jobs interface {
	Submit(kind tasks.JobKind, payload tasks.JobPayload) *tasks.Job
	Cancel(sessionID int64)
	State(sessionID int64, kind tasks.JobKind) tasks.JobState
}

// Notifications lists the notification log.
type Notifications interface {
	List(ctx context.Context) ([]models.Notification, error)
}

// ModelOpts wires a [Model]. Progress may be nil when no executor reports to this process.
type ModelOpts struct {
	Sessions      Sessions
	Jobs          Jobs
	Notifications Notifications
	Progress      <-chan tasks.ProgressUpdate
}

type pendingJob struct {
	kind    tasks.JobKind
	session *models.Session
}

// Model represents the TUI application state.
type Model struct {
	ctx           context.Context
	view          ViewState
	sessions      Sessions
	jobs          Jobs
	notes         Notifications
	progress      <-chan tasks.ProgressUpdate
	width         int
	height        int
	sessionList   list.Model
	loaded        bool
	pending       pendingJob
	activity      []string
	notifications []models.Notification
	status        string
	err           error
	help          help.Model
	keys          keyMap
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, opts ModelOpts) *Model {
	return &Model{
		ctx:      ctx,
		view:     SessionListView,
		sessions: opts.Sessions,
		jobs:     opts.Jobs,
		notes:    opts.Notifications,
		progress: opts.Progress,
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init loads the sessions and starts polling job state.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchSessions(), m.tick(), m.waitForProgress())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.loaded {
			m.sessionList.SetSize(m.listSize())
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case SessionListView:
			return m.handleListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case NotificationView:
			return m.handleNotificationKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateList(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSessionsFetched:
		data := msg.data.(sessionsFetched)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		items := make([]list.Item, len(data.sessions))
		for i, s := range data.sessions {
			items[i] = m.itemFor(s)
		}
		if !m.loaded {
			m.sessionList = list.New(items, list.NewDefaultDelegate(), 0, 0)
			m.sessionList.Title = "Sessions"
			m.sessionList.DisableQuitKeybindings()
			m.sessionList.SetSize(m.listSize())
			m.loaded = true
			return m, nil
		}
		return m, m.sessionList.SetItems(items)

	case MsgNotificationsFetched:
		data := msg.data.(notificationsFetched)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.notifications = data.notifications
		m.view = NotificationView
		return m, nil

	case MsgProgressUpdate:
		update := msg.data.(tasks.ProgressUpdate)
		m.activity = append(m.activity, update.Message)
		if len(m.activity) > activityLines {
			m.activity = m.activity[len(m.activity)-activityLines:]
		}
		return m, m.waitForProgress()

	case MsgTick:
		m.refreshStates()
		return m, m.tick()
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case SessionListView:
		return m.renderSessionList()
	case ConfirmView:
		return m.renderConfirm()
	case NotificationView:
		return m.renderNotifications()
	default:
		return ""
	}
}

func (m *Model) listSize() (int, int) {
	return max(m.width-4, 20), max(m.height-activityLines-8, 5)
}

func (m *Model) itemFor(s *models.Session) sessionItem {
	return sessionItem{
		session: s,
		imp:     m.jobs.State(s.ID, tasks.KindImport),
		exp:     m.jobs.State(s.ID, tasks.KindExport),
	}
}

func (m *Model) selected() *models.Session {
	if !m.loaded {
		return nil
	}
	if item, ok := m.sessionList.SelectedItem().(sessionItem); ok {
		return item.session
	}
	return nil
}

func (m *Model) refreshStates() {
	if !m.loaded {
		return
	}
	items := m.sessionList.Items()
	for i, it := range items {
		if si, ok := it.(sessionItem); ok {
			items[i] = m.itemFor(si.session)
		}
	}
	m.sessionList.SetItems(items)
}

func (m *Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.err != nil {
		if key.Matches(msg, m.keys.quit) {
			return m, tea.Quit
		}
		return m, nil
	}
	if m.loaded && m.sessionList.FilterState() == list.Filtering {
		return m.updateList(msg)
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.runImp), key.Matches(msg, m.keys.runExp):
		s := m.selected()
		if s == nil {
			return m, nil
		}
		kind := tasks.KindImport
		if key.Matches(msg, m.keys.runExp) {
			kind = tasks.KindExport
		}
		m.pending = pendingJob{kind: kind, session: s}
		m.view = ConfirmView
		return m, nil
	case key.Matches(msg, m.keys.cancel):
		if s := m.selected(); s != nil {
			m.jobs.Cancel(s.ID)
			m.status = fmt.Sprintf("Cancelling jobs for session %d", s.ID)
			m.refreshStates()
		}
		return m, nil
	case key.Matches(msg, m.keys.notices):
		return m, m.fetchNotifications()
	case key.Matches(msg, m.keys.refresh):
		return m, m.fetchSessions()
	}

	return m.updateList(msg)
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		p := m.pending
		if job := m.jobs.Submit(p.kind, tasks.JobPayload{SessionID: p.session.ID}); job == nil {
			m.status = fmt.Sprintf("%s already running for session %d", p.kind, p.session.ID)
		} else {
			m.status = fmt.Sprintf("Started %s for session %d", p.kind, p.session.ID)
		}
		m.pending = pendingJob{}
		m.view = SessionListView
		m.refreshStates()
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.pending = pendingJob{}
		m.view = SessionListView
	}
	return m, nil
}

func (m *Model) handleNotificationKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = SessionListView
	case key.Matches(msg, m.keys.refresh):
		return m, m.fetchNotifications()
	}
	return m, nil
}

func (m *Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	if !m.loaded || m.view != SessionListView {
		return m, nil
	}
	var cmd tea.Cmd
	m.sessionList, cmd = m.sessionList.Update(msg)
	return m, cmd
}

func (m *Model) fetchSessions() tea.Cmd {
	return func() tea.Msg {
		sessions, err := m.sessions.List(m.ctx, false)
		return sessionsFetchedMsg(sessions, err)
	}
}

func (m *Model) fetchNotifications() tea.Cmd {
	return func() tea.Msg {
		notifications, err := m.notes.List(m.ctx)
		return notificationsFetchedMsg(notifications, err)
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg() })
}

// waitForProgress blocks on the executor's channel. A closed channel stops the loop.
func (m *Model) waitForProgress() tea.Cmd {
	if m.progress == nil {
		return nil
	}
	return func() tea.Msg {
		update, ok := <-m.progress
		if !ok {
			return nil
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderSessionList() string {
	if !m.loaded {
		return styles.help.Render("Loading sessions...")
	}

	activity := styles.help.Render("No activity yet")
	if len(m.activity) > 0 {
		activity = strings.Join(m.activity, "\n")
	}

	var status string
	if m.status != "" {
		status = "\n" + styles.warn.Render(m.status)
	}

	helpKeys := []key.Binding{m.keys.runImp, m.keys.runExp, m.keys.cancel, m.keys.notices, m.keys.refresh, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n%s%s\n\n%s", m.sessionList.View(), styles.box.Render(activity), status, helpView)
}

func (m *Model) renderConfirm() string {
	p := m.pending
	if p.session == nil {
		return ""
	}
	title := styles.title.Render(fmt.Sprintf("Start %s for '%s'?", p.kind, p.session.Name))

	var info string
	switch p.kind {
	case tasks.KindImport:
		info = "\nWorking copies, previews and hashes are built for every new image.\n"
	case tasks.KindExport:
		info = "\nChanged images are rendered and synced to the session's albums.\n"
	}

	helpKeys := []key.Binding{m.keys.yes, m.keys.no, m.keys.back}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderNotifications() string {
	title := styles.title.Render("Notifications")
	body := string(formatter.NotificationsToText(m.notifications))

	helpKeys := []key.Binding{m.keys.refresh, m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n%s", title, body, helpView)
}
