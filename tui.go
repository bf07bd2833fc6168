package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"windvox/service"
)

// TUI message types
type StatusMsg struct{ Status service.Status }
type PartialMsg struct{ Text string }
type FinalMsg struct{ Text string }
type AudioLevelMsg struct{ Level float64 }
type NoticeMsg struct{ Text string }
type DeviceLineMsg struct{ Text string } // microphone device name
type ModeLineMsg struct{ Text string }   // trigger key and mode info
type tickMsg time.Time

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex

	tuiReady     = make(chan struct{})
	tuiReadyOnce sync.Once
)

// tuiSend delivers a message to the TUI if one is running.
func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

var (
	styleRec       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleProc      = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	styleErr       = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	styleIdle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleMeterLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleMeterHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleMeterOff  = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	stylePartial   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	styleNotice    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleText      = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleTitle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	styleDim       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleHelp      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleHelpBold  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

type tuiModel struct {
	status         service.Status
	frame          int
	width, height  int
	level          float64 // smoothed RMS
	peak           float64 // peak level during current dictation
	partial        string
	lastText       string
	msgCount       int
	notice         string
	deviceLine     string
	modeLine       string
	recordingSince time.Time
}

func NewTUIProgram() *tea.Program {
	return tea.NewProgram(tuiModel{}, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	tuiReadyOnce.Do(func() { close(tuiReady) })
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case StatusMsg:
		m.status = msg.Status
		switch msg.Status {
		case service.StatusRecording:
			m.recordingSince = time.Now()
			m.level = 0
			m.peak = 0
			m.partial = ""
			m.lastText = ""
			m.notice = ""
		case service.StatusIdle, service.StatusError:
			m.level = 0
			m.partial = ""
		}

	case PartialMsg:
		m.partial = msg.Text

	case FinalMsg:
		if m.lastText == "" {
			m.msgCount++
			m.lastText = msg.Text
		} else {
			m.lastText += " " + msg.Text
		}

	case AudioLevelMsg:
		if m.status == service.StatusRecording {
			m.level = m.level*0.6 + msg.Level*0.4
			if msg.Level > m.peak {
				m.peak = msg.Level
			}
		}

	case NoticeMsg:
		m.notice = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text

	case ModeLineMsg:
		m.modeLine = msg.Text
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder

	// Status line
	switch m.status {
	case service.StatusRecording:
		b.WriteString(styleRec.Render(fmt.Sprintf("● REC %.1fs", time.Since(m.recordingSince).Seconds())))
	case service.StatusProcessing:
		b.WriteString(styleProc.Render("◌ PROCESSING" + strings.Repeat(".", m.frame/8%4)))
	case service.StatusError:
		b.WriteString(styleErr.Render("✗ ERROR") + styleDim.Render("  (press trigger to clear)"))
	default:
		b.WriteString(styleIdle.Render("○ STANDBY"))
	}
	b.WriteString("\n")

	// Level meter
	b.WriteString(renderLevelMeter(m.level, m.status == service.StatusRecording, 32))
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(styleNotice.Render("⚠ " + m.notice))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	wrapWidth := m.width - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	// Live preview while the hypothesis is still unstable
	if m.partial != "" {
		for _, line := range wrapText(m.partial, wrapWidth) {
			b.WriteString(stylePartial.Render(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	// Last committed transcription
	if m.lastText != "" {
		b.WriteString(styleTitle.Render(fmt.Sprintf("Transcription #%d", m.msgCount)))
		b.WriteString("\n")
		for _, line := range wrapText(m.lastText, wrapWidth) {
			b.WriteString(styleText.Render(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	} else if m.partial == "" {
		b.WriteString(styleDim.Render("No transcriptions yet"))
		b.WriteString("\n\n")
	}

	if m.deviceLine != "" {
		b.WriteString(styleDim.Render(m.deviceLine))
		b.WriteString("\n")
	}
	if m.modeLine != "" {
		b.WriteString(styleDim.Render(m.modeLine))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(styleHelpBold.Render("Ctrl+C") + styleHelp.Render(" to quit"))
	b.WriteString("\n")
	b.WriteString(styleHelp.Render("windvox " + version))

	return b.String()
}

// renderLevelMeter draws a bar scaled so normal speech fills most of it.
// RMS levels for speech sit well below 1.0, hence the gain factor.
func renderLevelMeter(level float64, active bool, width int) string {
	if !active {
		return styleMeterOff.Render(strings.Repeat("░", width))
	}
	filled := int(math.Min(level*5, 1.0) * float64(width))
	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i >= filled:
			b.WriteString(styleMeterOff.Render("░"))
		case i >= width*3/4:
			b.WriteString(styleMeterHigh.Render("█"))
		default:
			b.WriteString(styleMeterLow.Render("█"))
		}
	}
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
