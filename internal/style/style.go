package style

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// --- Reusable Colors ---
var (
	colorPink      = lipgloss.Color("205")
	colorDarkGray  = lipgloss.Color("240")
	colorLightGray = lipgloss.Color("229")
	colorBlue      = lipgloss.Color("57")
	colorCyan      = lipgloss.Color("212")
	colorGreen     = lipgloss.Color("42")
	colorYellow    = lipgloss.Color("214")
	colorRed       = lipgloss.Color("196")
)

// --- General Purpose Styles ---
var (
	ErrorStyle   = lipgloss.NewStyle().Foreground(colorRed)
	WarningStyle = lipgloss.NewStyle().Foreground(colorYellow)
	HelpStyle    = lipgloss.NewStyle().Faint(true)
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	LabelStyle   = lipgloss.NewStyle().Foreground(colorDarkGray)
	DocStyle     = lipgloss.NewStyle().Margin(1, 2)
)

// --- Call Styles ---
var (
	BaseStyle          = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(colorDarkGray)
	HighlightFontStyle = lipgloss.NewStyle().Foreground(colorCyan)
	ConnectedStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	IdleStyle          = lipgloss.NewStyle().Foreground(colorLightGray)
)

// --- Common Components ---

// NewSpinner creates a spinner with a consistent style.
func NewSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPink)
	return s
}

// NewTableStyles returns the default styles for tables, with our custom selection style.
func NewTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.Foreground(colorLightGray).Background(colorBlue).Bold(false)
	return styles
}
