// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

var (
	// PrimaryColor is the main theme color (stream blue).
	PrimaryColor = lipgloss.Color("#4D9DE0")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4") // Teal
	// WarningColor indicates warnings or caution messages.
	WarningColor = lipgloss.Color("#FFE66D") // Yellow
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B") // Red
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3") // Light teal
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666") // Gray

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().
			Foreground(InfoColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// TableHeaderStyle is used for table headers.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(lipgloss.Color("#333"))

	// TableCellStyle formats table cells with appropriate padding.
	TableCellStyle = lipgloss.NewStyle().
			PaddingRight(2)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	FlowIcon    = "🌊"
	ChartIcon   = "📊"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the flow icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(FlowIcon + " " + title)
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.
		UnsetMargins().
		Render(title)

	boxContent := lipgloss.JoinVertical(
		lipgloss.Left,
		boxTitle,
		content,
	)

	return BoxStyle.Render(boxContent)
}

// StateStyle picks the color for a reconciliation state.
func StateStyle(state model.EventState) lipgloss.Style {
	switch state {
	case model.StateFinalized:
		return SuccessStyle
	case model.StateUnmatched:
		return WarningStyle
	case model.StateIngested, model.StateMatched, model.StateValuated:
		return InfoStyle
	default:
		return SubtleStyle
	}
}

var stateOrder = []model.EventState{
	model.StateIngested,
	model.StateMatched,
	model.StateUnmatched,
	model.StateValuated,
	model.StateFinalized,
}

// RenderStateTable renders event counts per state in lifecycle order.
func RenderStateTable(counts map[model.EventState]int) string {
	var b strings.Builder
	b.WriteString(TableHeaderStyle.Render(fmt.Sprintf("%-12s %8s", "STATE", "EVENTS")))
	b.WriteString("\n")

	total := 0
	for _, state := range stateOrder {
		n := counts[state]
		total += n
		label := StateStyle(state).Render(fmt.Sprintf("%-12s", state))
		b.WriteString(TableCellStyle.Render(label))
		b.WriteString(fmt.Sprintf("%6d\n", n))
	}
	b.WriteString(SubtleStyle.Render(fmt.Sprintf("%-12s %8d", "total", total)))
	return b.String()
}
