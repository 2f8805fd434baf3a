package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

type model struct {
	appController AppController
	call          callModel
}

// InitialModel creates the call screen. The controller must be run by the
// caller; the model only exchanges messages with it.
func InitialModel(controller AppController) model {
	return model{
		appController: controller,
		call:          initCallModel(),
	}
}

func (m model) Init() tea.Cmd {
	return m.initCall()
}

func (m model) View() string {
	s := m.callView()
	s += "\nPress ctrl + c to quit"
	return s
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m.updateCall(msg)
}

// listenForAppMessages is a command that listens for messages from the app controller.
func (m *model) listenForAppMessages() tea.Cmd {
	return func() tea.Msg {
		return <-m.appController.UIMessages()
	}
}
