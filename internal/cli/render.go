package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"shopnotify/internal/envelope"
)

var (
	accent  = lipgloss.Color("#D97706")
	fg      = lipgloss.Color("#E8E6E3")
	dim     = lipgloss.Color("#6B7280")
	success = lipgloss.Color("#22C55E")
	danger  = lipgloss.Color("#EF4444")
	warning = lipgloss.Color("#F59E0B")
	info    = lipgloss.Color("#60A5FA")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(fg)
	dimStyle    = lipgloss.NewStyle().Foreground(dim)
	passStyle   = lipgloss.NewStyle().Foreground(success).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(danger).Bold(true)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)

	typeColors = map[envelope.Type]lipgloss.Color{
		envelope.TypeInfo:    info,
		envelope.TypeSuccess: success,
		envelope.TypeWarning: warning,
		envelope.TypeError:   danger,
	}
)

// renderFeed draws the newest-first feed with an unread counter.
func renderFeed(items []envelope.Notification, unread int) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Notifications (%d unread)", unread)))
	b.WriteString("\n")
	if len(items) == 0 {
		b.WriteString(dimStyle.Render("  no notifications"))
		b.WriteString("\n")
		return b.String()
	}

	rows := make([]string, 0, len(items))
	for _, n := range items {
		rows = append(rows, renderItem(n))
	}
	b.WriteString(boxStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")
	return b.String()
}

func renderItem(n envelope.Notification) string {
	marker := " "
	if !n.Read {
		marker = "●"
	}
	typ := n.Type.OrDefault()
	tag := lipgloss.NewStyle().Foreground(typeColors[typ]).Render(fmt.Sprintf("%-7s", typ))
	line := fmt.Sprintf("%s %s %s  %s", marker, tag, titleStyle.Render(n.Title), n.Message)
	if when := shortTime(n.Timestamp); when != "" {
		line += "  " + dimStyle.Render(when)
	}
	return line
}

func shortTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("Jan 2 15:04:05")
}
