package command

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"time"

	"github.com/adamavenir/rooms/internal/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var noColor = os.Getenv("NO_COLOR") != ""

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	mentionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231"))
)

var senderColors = []lipgloss.Color{"111", "157", "216", "36", "183", "230"}

func render(style lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return style.Render(text)
}

// senderStyle picks a stable color per sender.
func senderStyle(sender string) lipgloss.Style {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(sender)))
	color := senderColors[h.Sum32()%uint32(len(senderColors))]
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

// FormatEntry renders one thread entry for the terminal.
func FormatEntry(entry types.ThreadEntry) string {
	header := fmt.Sprintf("%s %s", render(senderStyle(entry.Sender), entry.Sender), render(dimStyle, entry.Time))
	return header + "\n" + highlightMentions(entry.Body)
}

func highlightMentions(body string) string {
	if noColor {
		return body
	}
	words := strings.Split(body, " ")
	for i, word := range words {
		if strings.HasPrefix(word, "@") && len(word) > 1 {
			words[i] = mentionStyle.Render(word)
		}
	}
	return strings.Join(words, " ")
}

func formatPresence(status types.PresenceStatus) string {
	switch status {
	case types.PresenceActive:
		return render(activeStyle, string(status))
	case types.PresenceIdle:
		return render(idleStyle, string(status))
	default:
		return string(status)
	}
}

// formatAgo renders a timestamp relative to now, or "never".
func formatAgo(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.Time(*t)
}

func pluralize(n int, singular string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), singular)
}
