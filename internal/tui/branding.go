package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/cspfeed/internal/config"
)

const AppName = "cspfeed"

// ASCII art logo lines for cspfeed - canonical definition
var LogoLines = []string{
	" ▄████  ▄████  ██████▄",
	"██▀    ██▀     ██   ▀██",
	"██     ▀████▄  ██▄▄▄█▀",
	"██         ██  ██",
	" ▀████ ▄████▀  ██",
}

const CompactLogo = `csp ›`

// Banner gradient colors
var BannerColors = []lipgloss.Color{
	lipgloss.Color("#3B82F6"),
	lipgloss.Color("#60A5FA"),
	lipgloss.Color("#95E1D3"),
	lipgloss.Color("#4ECDC4"),
	lipgloss.Color("#3B82F6"),
}

var (
	PrimaryColor   = lipgloss.Color("#3B82F6")
	SecondaryColor = lipgloss.Color("#4ECDC4")
	AccentColor    = lipgloss.Color("#95E1D3")

	BackgroundColor = lipgloss.Color("#1A1A2E")
	SurfaceColor    = lipgloss.Color("#16213E")
	TextColor       = lipgloss.Color("#EAEAEA")
	MutedColor      = lipgloss.Color("#94A3B8")

	UnreadColor  = lipgloss.Color("#FFE66D")
	ReadColor    = lipgloss.Color("#64748B")
	ErrorColor   = lipgloss.Color("#F87171")
	SuccessColor = lipgloss.Color("#4ADE80")
)

// Styled components, rebuilt by ApplyTheme
var (
	LogoStyle          lipgloss.Style
	TitleStyle         lipgloss.Style
	HeaderStyle        lipgloss.Style
	StatusBarStyle     lipgloss.Style
	UnreadItemStyle    lipgloss.Style
	ReadItemStyle      lipgloss.Style
	SelectedItemStyle  lipgloss.Style
	HelpStyle          lipgloss.Style
	TimeStyle          lipgloss.Style
	TabStyle           lipgloss.Style
	ActiveTabStyle     lipgloss.Style
	ErrorMessageStyle  lipgloss.Style
	SeparatorStyle     lipgloss.Style
	StatusInfoStyle    lipgloss.Style
	StatusSuccessStyle lipgloss.Style
	StatusWarnStyle    lipgloss.Style
	StatusErrorStyle   lipgloss.Style
	TagStyle           lipgloss.Style

	// Empty style for resetting
	EmptyStyle = lipgloss.NewStyle()
)

func init() {
	buildStyles()
}

// ApplyTheme swaps in the configured colors. Empty values keep the
// built-in palette.
func ApplyTheme(colors config.UIColors) {
	set := func(dst *lipgloss.Color, value string) {
		if value != "" {
			*dst = lipgloss.Color(value)
		}
	}
	set(&PrimaryColor, colors.Primary)
	set(&SecondaryColor, colors.Secondary)
	set(&AccentColor, colors.Accent)
	set(&TextColor, colors.Text)
	set(&MutedColor, colors.Muted)
	set(&ErrorColor, colors.Error)
	set(&SuccessColor, colors.Success)
	buildStyles()
}

func buildStyles() {
	LogoStyle = lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Bold(true)

	TitleStyle = lipgloss.NewStyle().
		Foreground(TextColor).
		Background(SurfaceColor).
		Bold(true).
		Padding(0, 2)

	HeaderStyle = lipgloss.NewStyle().
		Foreground(SecondaryColor).
		Bold(true)

	StatusBarStyle = lipgloss.NewStyle().
		Foreground(MutedColor).
		Padding(0, 1)

	UnreadItemStyle = lipgloss.NewStyle().
		Foreground(UnreadColor).
		Bold(true)

	ReadItemStyle = lipgloss.NewStyle().
		Foreground(ReadColor)

	SelectedItemStyle = lipgloss.NewStyle().
		Foreground(BackgroundColor).
		Background(AccentColor).
		Bold(true)

	HelpStyle = lipgloss.NewStyle().
		Foreground(MutedColor).
		Italic(true)

	TimeStyle = lipgloss.NewStyle().
		Foreground(MutedColor).
		Faint(true)

	TabStyle = lipgloss.NewStyle().
		Foreground(MutedColor).
		Padding(0, 1)

	ActiveTabStyle = lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Bold(true).
		Underline(true).
		Padding(0, 1)

	ErrorMessageStyle = lipgloss.NewStyle().
		Foreground(ErrorColor).
		Bold(true)

	SeparatorStyle = lipgloss.NewStyle().
		Foreground(MutedColor)

	StatusInfoStyle = lipgloss.NewStyle().
		Foreground(MutedColor)

	StatusSuccessStyle = lipgloss.NewStyle().
		Foreground(SuccessColor)

	StatusWarnStyle = lipgloss.NewStyle().
		Foreground(UnreadColor)

	StatusErrorStyle = lipgloss.NewStyle().
		Foreground(ErrorColor).
		Bold(true)

	TagStyle = lipgloss.NewStyle().
		Foreground(BackgroundColor).
		Background(SuccessColor).
		Padding(0, 1)
}

// StatusBarStyleWithPadding returns a properly formatted status bar style with padding
func StatusBarStyleWithPadding() lipgloss.Style {
	return StatusBarStyle.Padding(0, 1)
}

// ContentWrapper returns a style for wrapping content with width and height constraints
func ContentWrapper(width, height int) lipgloss.Style {
	return EmptyStyle.Width(width).Height(height).MaxHeight(height)
}

func GetCompactBanner(message string) string {
	var coloredLines []string
	for _, line := range LogoLines {
		coloredLines = append(coloredLines, LogoStyle.Render(line))
	}

	logo := lipgloss.JoinVertical(lipgloss.Center, coloredLines...)

	return lipgloss.JoinVertical(
		lipgloss.Center,
		logo,
		"",
		HelpStyle.Render(message),
	)
}

// Banner renders the startup banner for the given version.
func Banner(version string) string {
	lines := make([]string, len(LogoLines)+1)
	copy(lines, LogoLines)
	lines[len(LogoLines)] = ""

	versionTag := version
	if versionTag != "" && versionTag != "dev" {
		if versionTag[0] != 'v' && versionTag[0] != 'V' {
			versionTag = "v" + versionTag
		}
		lines = append(lines, fmt.Sprintf("   News Feed Client %s", versionTag))
	} else {
		lines = append(lines, "   News Feed Client")
	}

	var coloredLines []string
	for i, line := range lines {
		if line == "" {
			coloredLines = append(coloredLines, line)
			continue
		}

		colorIdx := i % len(BannerColors)
		style := lipgloss.NewStyle().
			Foreground(BannerColors[colorIdx]).
			Bold(i < len(LogoLines))

		coloredLines = append(coloredLines, style.Render(line))
	}

	borderChars := lipgloss.Border{
		Top:         "═",
		Bottom:      "═",
		Left:        "║",
		Right:       "║",
		TopLeft:     "╔",
		TopRight:    "╗",
		BottomLeft:  "╚",
		BottomRight: "╝",
	}

	borderStyle := lipgloss.NewStyle().
		Border(borderChars).
		BorderForeground(SecondaryColor).
		Padding(1, 3).
		MarginTop(1)

	banner := lipgloss.JoinVertical(lipgloss.Center, coloredLines...)
	output := lipgloss.NewStyle().
		Width(70).
		Align(lipgloss.Center).
		Render(borderStyle.Render(banner))

	separator := lipgloss.NewStyle().
		Width(70).
		Align(lipgloss.Center).
		MarginBottom(1).
		Render(lipgloss.NewStyle().Foreground(AccentColor).Render("◆ ◇ ◆ ◇ ◆"))

	return lipgloss.JoinVertical(lipgloss.Left, output, separator)
}

func ShowBanner(version string) {
	fmt.Println(Banner(version))
}
