// Package cli renders the interactive classification session in the terminal.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/hscode-copilot/internal/model"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#3D7DD8")
	// SuccessColor marks classified products and finished calls.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor marks pending products.
	WarningColor = lipgloss.Color("#FFE66D")
	// ErrorColor marks failures and products needing review.
	ErrorColor = lipgloss.Color("#FF6B6B")
	// InfoColor marks informational messages.
	InfoColor = lipgloss.Color("#95E1D3")
	// SubtleColor marks less prominent text.
	SubtleColor = lipgloss.Color("#666666")

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor)
	InfoStyle    = lipgloss.NewStyle().Foreground(InfoColor)
	SubtleStyle  = lipgloss.NewStyle().Foreground(SubtleColor)
	BoldStyle    = lipgloss.NewStyle().Bold(true)

	// BoxStyle frames questions, candidate tables and products.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// CodeStyle highlights HS codes.
	CodeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)
)

// Icons.
const (
	SuccessIcon  = "✓"
	ErrorIcon    = "✗"
	WarningIcon  = "⚠️"
	InfoIcon     = "ℹ️"
	CustomsIcon  = "🛃"
	QuestionIcon = "❓"
	PhoneIcon    = "📞"
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

// FormatTitle formats a title with the customs icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(CustomsIcon + " " + title)
}

// FormatPrompt formats an input prompt.
func FormatPrompt(prompt string) string {
	return PromptStyle.Render(prompt + " → ")
}

// RenderBox renders content in a bordered box under a title.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.UnsetMargins().Render(title)
	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, boxTitle, content))
}

// StatusStyle picks the color for a product status.
func StatusStyle(status model.ProductStatus) lipgloss.Style {
	switch status {
	case model.ProductClassified:
		return SuccessStyle
	case model.ProductNeedsReview:
		return ErrorStyle
	default:
		return WarningStyle
	}
}

// RenderCandidates lists up to limit candidates with their confidence.
func RenderCandidates(candidates model.Candidates, limit int) string {
	if len(candidates) == 0 {
		return SubtleStyle.Render("no candidates above threshold")
	}

	var b strings.Builder
	for i, c := range candidates.TopN(limit) {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s %3d%%  %s", i+1, CodeStyle.Render(c.Code), c.Confidence(), c.Description)
	}
	return b.String()
}

// RenderProduct summarizes a finalized product.
func RenderProduct(p model.FinalProduct) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", BoldStyle.Render("Product:"), p.Identification)
	fmt.Fprintf(&b, "%s  %s %s\n", BoldStyle.Render("HS code:"), CodeStyle.Render(p.HSCode), p.CodeDescription)
	fmt.Fprintf(&b, "%s  %s\n", BoldStyle.Render("Category:"), p.Category)
	fmt.Fprintf(&b, "%s  %d%% (%s)\n", BoldStyle.Render("Confidence:"), p.Confidence, StatusStyle(p.Status).Render(string(p.Status)))
	if len(p.AlternativeHSCodes) > 0 {
		b.WriteString(BoldStyle.Render("Alternatives:"))
		for _, alt := range p.AlternativeHSCodes {
			fmt.Fprintf(&b, "\n  %s %3d%%  %s", alt.Code, alt.Confidence, alt.Description)
		}
		b.WriteString("\n")
	}
	if p.VerificationNeeded {
		b.WriteString(FormatWarning("Low confidence: a helpdesk verification call is recommended"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderTranscriptEntry formats one line of a verification call.
func RenderTranscriptEntry(e model.TranscriptEntry) string {
	stamp := SubtleStyle.Render(e.Timestamp.Format("15:04:05"))
	if e.Speaker == model.SpeakerAgent {
		return stamp + " " + InfoStyle.Render(e.Text)
	}
	return stamp + " " + e.Text
}
