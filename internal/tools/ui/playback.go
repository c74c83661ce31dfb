package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/levelup-learning/levelup-video/internal/player"
	"github.com/levelup-learning/levelup-video/internal/streaming"
)

const (
	seekStep = 10 * time.Second
	barWidth = 40
)

// Controls is the part of player.Runtime the playback view drives.
type Controls interface {
	State() player.State
	Play() error
	Pause() error
	Seek(pos time.Duration) error
	Position() time.Duration
	Duration() time.Duration
	Variant() streaming.Variant
}

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	stateStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1).Background(lipgloss.Color("236"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type stateMsg player.StateChange

type subscriptionClosedMsg struct{}

type positionMsg struct{}

type PlaybackModel struct {
	videoID  string
	controls Controls
	changes  <-chan player.StateChange
	state    player.State
	message  string
	pos      time.Duration
	dur      time.Duration
	variant  streaming.Variant
}

func NewPlaybackModel(videoID string, controls Controls, changes <-chan player.StateChange) PlaybackModel {
	return PlaybackModel{videoID: videoID, controls: controls, changes: changes, state: controls.State()}
}

func (m PlaybackModel) waitChange() tea.Cmd {
	return func() tea.Msg {
		change, ok := <-m.changes
		if !ok {
			return subscriptionClosedMsg{}
		}
		return stateMsg(change)
	}
}

func pollPosition() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg { return positionMsg{} })
}

func (m PlaybackModel) Init() tea.Cmd { return tea.Batch(m.waitChange(), pollPosition()) }

func (m PlaybackModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "space":
			if m.state == player.Playing {
				_ = m.controls.Pause()
			} else {
				_ = m.controls.Play()
			}
		case "left":
			_ = m.controls.Seek(max(0, m.controls.Position()-seekStep))
		case "right":
			_ = m.controls.Seek(m.controls.Position() + seekStep)
		}
		return m, nil
	case stateMsg:
		m.state = msg.To
		m.message = ""
		if msg.Err != nil {
			m.message = msg.Err.Message()
		}
		return m, m.waitChange()
	case subscriptionClosedMsg:
		return m, tea.Quit
	case positionMsg:
		m.pos = m.controls.Position()
		m.dur = m.controls.Duration()
		m.variant = m.controls.Variant()
		if m.state == player.Ended {
			return m, tea.Quit
		}
		return m, pollPosition()
	}
	return m, nil
}

func (m PlaybackModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s\n", titleStyle.Render(m.videoID), stateStyle.Render(m.state.String()), dimStyle.Render(m.variant.String()))
	fmt.Fprintf(&b, "%s %s / %s\n", barStyle.Render(progressBar(m.pos, m.dur, barWidth)), clock(m.pos), clock(m.dur))
	if m.message != "" {
		fmt.Fprintf(&b, "%s\n", errStyle.Render(m.message))
	}
	b.WriteString(dimStyle.Render("space play/pause  ←/→ seek  q quit"))
	return boxStyle.Render(b.String()) + "\n"
}

// State is the last state the view saw.
func (m PlaybackModel) State() player.State { return m.state }

func progressBar(pos, dur time.Duration, width int) string {
	filled := 0
	if dur > 0 {
		filled = int(float64(width) * float64(min(pos, dur)) / float64(dur))
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func clock(d time.Duration) string {
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

// RunPlayback blocks until the user quits or playback ends.
func RunPlayback(videoID string, controls Controls, changes <-chan player.StateChange) (player.State, error) {
	final, err := tea.NewProgram(NewPlaybackModel(videoID, controls, changes)).Run()
	if err != nil {
		return controls.State(), err
	}
	return final.(PlaybackModel).State(), nil
}
