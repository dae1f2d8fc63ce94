package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Direction marks a transcript line as sent or received.
type Direction int

const (
	Sent Direction = iota
	Received
	Note
)

type transcriptLine struct {
	dir  Direction
	text string
}

// Transcript records what a command sent and received so verbose mode can
// show it after the result. It is safe for concurrent use.
type Transcript struct {
	title string
	mu    sync.Mutex
	lines []transcriptLine
}

// NewTranscript creates an empty transcript.
func NewTranscript(title string) *Transcript {
	return &Transcript{title: title}
}

// Add appends a line. Multi-line text is split so each line keeps its prefix.
func (t *Transcript) Add(dir Direction, format string, args ...any) {
	if t == nil {
		return
	}
	text := fmt.Sprintf(format, args...)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(text, "\r\n"), "\n") {
		t.lines = append(t.lines, transcriptLine{dir: dir, text: strings.TrimRight(line, "\r")})
	}
}

// Len returns the number of recorded lines.
func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}

// Render returns the transcript as a bordered box.
func (t *Transcript) Render(width int) string {
	t.mu.Lock()
	lines := make([]string, 0, len(t.lines)+1)
	lines = append(lines, TranscriptTitleStyle.Render(t.title))
	for _, l := range t.lines {
		switch l.dir {
		case Sent:
			lines = append(lines, TranscriptSentStyle.Render("> "+l.text))
		case Received:
			lines = append(lines, TranscriptRecvStyle.Render("< "+l.text))
		default:
			lines = append(lines, StepNoteStyle.Render("* "+l.text))
		}
	}
	t.mu.Unlock()

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(max(width, MinTerminalWidth)-4).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}
