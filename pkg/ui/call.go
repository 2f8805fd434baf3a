package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/lanCall/internal/app_events"
	"github.com/rescp17/lanCall/internal/app_events/call"
	"github.com/rescp17/lanCall/internal/style"
	"github.com/rescp17/lanCall/internal/util"
	"github.com/rescp17/lanCall/pkg/negotiation"
)

const labelWidth = 12

type callModel struct {
	endpoint  string
	role      negotiation.Role
	state     negotiation.State
	session   negotiation.Session
	tracks    []negotiation.RemoteTrack
	table     table.Model
	spinner   spinner.Model
	lastError error
	fatal     bool
	keys      KeyMap
}

type KeyMap struct {
	Connect    key.Binding
	Disconnect key.Binding
	Quit       key.Binding
}

// DefaultKeyMap provides sensible default keybindings.
var DefaultKeyMap = KeyMap{
	Connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "Connect")),
	Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "Disconnect")),
	Quit:       key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "Quit")),
}

func initCallModel() callModel {
	columns := []table.Column{
		{Title: "Kind", Width: 6},
		{Title: "Track", Width: 24},
		{Title: "Stream", Width: 40},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(1),
	)
	t.SetStyles(style.NewTableStyles())

	m := callModel{
		state:   negotiation.StateIdle,
		table:   t,
		spinner: style.NewSpinner(),
		keys:    DefaultKeyMap,
	}
	m.syncKeys()
	return m
}

// syncKeys enables connect only where the machine accepts it.
func (c *callModel) syncKeys() {
	c.keys.Connect.SetEnabled(c.state.CanConnect())
	c.keys.Disconnect.SetEnabled(!c.state.CanConnect())
}

func (m *model) initCall() tea.Cmd {
	return tea.Batch(m.call.spinner.Tick, m.listenForAppMessages())
}

func (m model) callView() string {
	c := m.call
	var b strings.Builder

	b.WriteString(style.TitleStyle.Render("lanCall"))
	b.WriteString("\n\n")
	writeField(&b, "Endpoint", c.endpoint)
	writeField(&b, "Role", c.role.String())
	writeField(&b, "State", c.stateView())
	if c.session.HasID() {
		writeField(&b, "Session ID", style.HighlightFontStyle.Render(c.session.ID))
		writeField(&b, "Session", c.session.State.String())
	}

	if len(c.tracks) > 0 {
		b.WriteString("\nRemote tracks:\n")
		b.WriteString(style.BaseStyle.Render(c.table.View()))
		b.WriteString("\n")
	}

	if c.lastError != nil {
		b.WriteString("\n")
		if c.fatal {
			b.WriteString(style.ErrorStyle.Render("Error: " + c.lastError.Error()))
		} else {
			b.WriteString(style.WarningStyle.Render("Warning: " + c.lastError.Error()))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(style.HelpStyle.Render(c.helpView()))
	b.WriteString("\n")
	return b.String()
}

func (c callModel) stateView() string {
	switch {
	case c.state == negotiation.StateNegotiated:
		return style.ConnectedStyle.Render(c.state.String())
	case c.state.InProgress():
		return fmt.Sprintf("%s %s", c.spinner.View(), c.state.String())
	case c.state == negotiation.StateFailed:
		return style.ErrorStyle.Render(c.state.String())
	default:
		return style.IdleStyle.Render(c.state.String())
	}
}

func (c callModel) helpView() string {
	var parts []string
	for _, k := range []key.Binding{c.keys.Connect, c.keys.Disconnect, c.keys.Quit} {
		if k.Enabled() {
			parts = append(parts, fmt.Sprintf("%s/%s", k.Help().Key, k.Help().Desc))
		}
	}
	return "  " + strings.Join(parts, "  ")
}

func writeField(b *strings.Builder, label, value string) {
	b.WriteString(style.LabelStyle.Render(util.PadRight(label, labelWidth)))
	b.WriteString(value)
	b.WriteString("\n")
}

func (m *model) updateCall(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.call.spinner, cmd = m.call.spinner.Update(msg)
		return m, cmd
	case call.EndpointMsg:
		m.call.endpoint = msg.URL
		m.call.role = msg.Role
	case call.StateChangedMsg:
		m.call.state = msg.State
		if msg.State == negotiation.StateConnecting {
			m.call.lastError = nil
			m.call.fatal = false
			m.call.tracks = nil
			m.updateTrackTable()
		}
		m.call.syncKeys()
	case call.SessionChangedMsg:
		m.call.session = msg.Session
	case call.RemoteTrackMsg:
		m.call.tracks = append(m.call.tracks, msg.Track)
		m.updateTrackTable()
	case appevents.AppErrorMsg:
		m.call.lastError = msg.Err
		m.call.fatal = msg.Fatal
	default:
		return m, nil
	}
	return m, m.listenForAppMessages()
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.call.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.call.keys.Connect):
		m.appController.AppEvents() <- call.ConnectRequestedEvent{}
	case key.Matches(msg, m.call.keys.Disconnect):
		m.appController.AppEvents() <- call.DisconnectRequestedEvent{}
	}
	return m, nil
}

func (m *model) updateTrackTable() {
	rows := make([]table.Row, 0, len(m.call.tracks))
	for _, t := range m.call.tracks {
		rows = append(rows, table.Row{t.Kind, t.ID, t.StreamID})
	}
	m.call.table.SetRows(rows)
	m.call.table.SetHeight(len(rows) + 1)
}
