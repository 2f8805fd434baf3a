package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/lanCall/internal/app_events"
	"github.com/rescp17/lanCall/internal/app_events/call"
	"github.com/rescp17/lanCall/pkg/negotiation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	messages chan tea.Msg
	events   chan appevents.AppEvent
}

func newFakeController() *fakeController {
	return &fakeController{
		messages: make(chan tea.Msg, 8),
		events:   make(chan appevents.AppEvent, 8),
	}
}

func (f *fakeController) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeController) UIMessages() <-chan tea.Msg            { return f.messages }
func (f *fakeController) AppEvents() chan<- appevents.AppEvent { return f.events }

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(*model)
	require.True(t, ok, "Update must return *model")
	return *nm, cmd
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestCallModel_ConnectKeyFollowsState(t *testing.T) {
	ctrl := newFakeController()
	m := InitialModel(ctrl)
	assert.True(t, m.call.keys.Connect.Enabled())
	assert.False(t, m.call.keys.Disconnect.Enabled())

	m, _ = update(t, m, keyPress('c'))
	select {
	case ev := <-ctrl.events:
		assert.IsType(t, call.ConnectRequestedEvent{}, ev)
	case <-time.After(time.Second):
		t.Fatal("connect event not sent")
	}

	m, _ = update(t, m, call.StateChangedMsg{State: negotiation.StateOffering})
	assert.False(t, m.call.keys.Connect.Enabled())
	assert.True(t, m.call.keys.Disconnect.Enabled())

	// Connect is ignored while a call is in progress.
	m, _ = update(t, m, keyPress('c'))
	assert.Empty(t, ctrl.events)

	m, _ = update(t, m, keyPress('d'))
	assert.IsType(t, call.DisconnectRequestedEvent{}, <-ctrl.events)

	m, _ = update(t, m, call.StateChangedMsg{State: negotiation.StateClosed})
	assert.True(t, m.call.keys.Connect.Enabled())
}

func TestCallModel_View(t *testing.T) {
	m := InitialModel(newFakeController())
	m, _ = update(t, m, call.EndpointMsg{URL: "http://192.0.2.1:8080/", Role: negotiation.RoleOfferer})
	m, _ = update(t, m, call.StateChangedMsg{State: negotiation.StateNegotiated})
	m, _ = update(t, m, call.SessionChangedMsg{Session: negotiation.Session{
		ID: "S1", Role: negotiation.RoleOfferer, State: negotiation.SessionDescriptionExchanged,
	}})
	m, _ = update(t, m, call.RemoteTrackMsg{Track: negotiation.RemoteTrack{Kind: "audio", ID: "audio", StreamID: "stream-1"}})

	view := m.View()
	assert.Contains(t, view, "http://192.0.2.1:8080/")
	assert.Contains(t, view, "offerer")
	assert.Contains(t, view, "Session ID")
	assert.Contains(t, view, "S1")
	assert.Contains(t, view, "stream-1")
	assert.NotContains(t, view, "c/Connect")
	assert.Contains(t, view, "d/Disconnect")
}

func TestCallModel_Errors(t *testing.T) {
	m := InitialModel(newFakeController())

	m, cmd := update(t, m, appevents.AppErrorMsg{Err: errors.New("patch-candidate failed"), Fatal: false})
	assert.NotNil(t, cmd, "model must keep listening after a notice")
	assert.Contains(t, m.View(), "Warning: patch-candidate failed")

	m, _ = update(t, m, appevents.AppErrorMsg{Err: errors.New("create failed"), Fatal: true})
	assert.Contains(t, m.View(), "Error: create failed")

	// A new attempt clears the previous error.
	m, _ = update(t, m, call.StateChangedMsg{State: negotiation.StateConnecting})
	assert.NotContains(t, m.View(), "create failed")
}

func TestCallModel_Quit(t *testing.T) {
	m := InitialModel(newFakeController())
	_, cmd := update(t, m, keyPress('q'))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
