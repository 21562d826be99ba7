package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pianocapture/gate"
	"pianocapture/midi"
	"pianocapture/notes"
	"pianocapture/recorder"
	"pianocapture/session"
	"pianocapture/theme"
	"pianocapture/widgets"
)

const barWidth = 24

// meters cycled by the "t" key
var meters = []notes.TimeSignature{
	{Numerator: 4, Denominator: 4},
	{Numerator: 3, Denominator: 4},
	{Numerator: 2, Denominator: 4},
	{Numerator: 6, Denominator: 8},
	{Numerator: 5, Denominator: 4},
}

type Model struct {
	Session   *session.Session
	DeviceMgr *midi.DeviceManager
	Theme     *theme.Theme
	keyboards map[string]bool
	showHelp  bool
	quitting  bool
	status    string
}

type UpdateMsg struct{}

type DeviceEventMsg midi.DeviceEvent

func NewModel(s *session.Session, deviceMgr *midi.DeviceManager, th *theme.Theme) Model {
	return Model{
		Session:   s,
		DeviceMgr: deviceMgr,
		Theme:     th,
		keyboards: make(map[string]bool),
	}
}

func ListenForUpdates(s *session.Session) tea.Cmd {
	return func() tea.Msg {
		<-s.UpdateChan
		return UpdateMsg{}
	}
}

func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{ListenForUpdates(m.Session)}
	if m.DeviceMgr != nil {
		cmds = append(cmds, ListenForDevices(m.DeviceMgr))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.status = ""
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.Session.StopMetronome()
			return m, tea.Quit

		case "m":
			m.report(m.Session.ToggleMetronome())

		case "+", "=":
			m.report(m.Session.AdjustTempo(5))

		case "-", "_":
			m.report(m.Session.AdjustTempo(-5))

		case "t":
			m.report(m.Session.SetTimeSignature(nextMeter(m.Session.Snapshot().TimeSignature)))

		case " ", "g":
			m.report(m.Session.ToggleGuide())

		case "s":
			m.report(m.Session.StopGuide())

		case "x":
			m.Session.CancelRecording()
			m.status = "recording discarded"

		case "?":
			m.showHelp = !m.showHelp
		}

	case UpdateMsg:
		return m, ListenForUpdates(m.Session)

	case DeviceEventMsg:
		event := midi.DeviceEvent(msg)
		switch event.Type {
		case midi.DeviceConnected:
			m.keyboards[event.ID] = true
			m.Session.AttachKeyboard(event.Controller)
		case midi.DeviceDisconnected:
			delete(m.keyboards, event.ID)
		}
		return m, ListenForDevices(m.DeviceMgr)
	}

	return m, nil
}

func (m *Model) report(err error) {
	if err != nil {
		m.status = err.Error()
	}
}

func nextMeter(cur notes.TimeSignature) notes.TimeSignature {
	for i, ts := range meters {
		if ts == cur {
			return meters[(i+1)%len(meters)]
		}
	}
	return meters[0]
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	v := m.Session.Snapshot()
	th := m.Theme

	headerStyle := lipgloss.NewStyle().Foreground(th.Accent()).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(th.Muted()).Width(10)
	fgStyle := lipgloss.NewStyle().Foreground(th.FG())
	warnStyle := lipgloss.NewStyle().Foreground(th.Warning())
	dimStyle := lipgloss.NewStyle().Foreground(th.Muted())

	var out strings.Builder
	out.WriteString("\n")

	kb := "no keyboard"
	if n := len(m.keyboards); n > 0 {
		kb = fmt.Sprintf("%d keyboard(s)", n)
	}
	out.WriteString(headerStyle.Render("pianocapture") + "  " + dimStyle.Render(kb))
	out.WriteString("\n\n")

	// Metronome
	click := "off"
	if v.Metronome {
		click = "on"
	}
	out.WriteString(labelStyle.Render("metronome"))
	out.WriteString(fgStyle.Render(fmt.Sprintf("%3.0f bpm  %-4s %-3s ", v.BPM, v.TimeSignature, click)))
	out.WriteString(widgets.RenderBeats(th, v.TimeSignature.Numerator, v.Beat))
	out.WriteString("\n")

	// Recorder
	out.WriteString(labelStyle.Render("recorder"))
	out.WriteString(fgStyle.Render(fmt.Sprintf("%-9s %3d notes ", v.Recorder.Phase, v.Captured)))
	switch v.Recorder.Countdown {
	case recorder.PauseCountdown:
		out.WriteString(widgets.RenderProgress(th, v.Recorder.Fraction, barWidth, th.Accent()))
		out.WriteString(dimStyle.Render(" pausing"))
	case recorder.CompleteCountdown:
		out.WriteString(widgets.RenderProgress(th, v.Recorder.Fraction, barWidth, th.Warning()))
		out.WriteString(warnStyle.Render(" ending"))
	}
	out.WriteString("\n")

	if v.LastTake != nil {
		take := v.LastTake
		line := fmt.Sprintf("%d take(s), last %d notes %.1fs", v.Takes, len(take.Sequence.Notes), take.Sequence.TotalTime)
		if take.MIDIPath != "" {
			line += " -> " + filepath.Base(take.MIDIPath)
		}
		out.WriteString(labelStyle.Render(""))
		out.WriteString(dimStyle.Render(line))
		out.WriteString("\n")
	}

	// Guide
	if v.GuideName != "" {
		out.WriteString(labelStyle.Render("guide"))
		out.WriteString(fgStyle.Render(fmt.Sprintf("%-8s %s  gate %d/%d  ", v.GuideState, v.GuideName, v.GuideGate, v.GuideGates)))
		frac := 0.0
		if v.GuideEnd > 0 {
			frac = v.GuideTime / v.GuideEnd
		}
		out.WriteString(widgets.RenderProgress(th, frac, barWidth, th.Success()))
		if v.GuideState == gate.Waiting && len(v.Pending) > 0 {
			names := make([]string, len(v.Pending))
			for i, p := range v.Pending {
				names[i] = notes.KeyName(p)
			}
			out.WriteString(warnStyle.Render("  play " + strings.Join(names, " ")))
		}
		out.WriteString("\n")
	}

	// Keyboard strip
	states := widgets.KeyStates(v.Held, v.Pending, v.Sounding)
	lo, hi := widgets.KeyRange(states)
	out.WriteString("\n")
	out.WriteString(labelStyle.Render(notes.KeyName(lo)))
	out.WriteString(widgets.RenderKeyboard(th, lo, hi, states))
	out.WriteString(dimStyle.Render(" " + notes.KeyName(hi)))
	out.WriteString("\n\n")

	if m.status != "" {
		out.WriteString(warnStyle.Render(m.status))
		out.WriteString("\n")
	} else if v.Err != nil {
		out.WriteString(dimStyle.Render(v.Err.Error()))
		out.WriteString("\n")
	}

	if m.showHelp {
		out.WriteString(dimStyle.Render(widgets.RenderKeyHelp(helpSections)))
	} else {
		out.WriteString(dimStyle.Render("m:metronome  +/-:tempo  t:meter  space:guide  s:stop guide  x:discard  ?:help  q:quit"))
	}
	return out.String()
}

var helpSections = []widgets.KeySection{
	{Title: "Metronome", Keys: []widgets.KeyBinding{
		{Key: "m", Desc: "start/stop"},
		{Key: "+ / -", Desc: "tempo +/- 5 bpm"},
		{Key: "t", Desc: "cycle time signature"},
	}},
	{Title: "Guide", Keys: []widgets.KeyBinding{
		{Key: "space, g", Desc: "play/pause"},
		{Key: "s", Desc: "stop and rewind"},
	}},
	{Title: "Recorder", Keys: []widgets.KeyBinding{
		{Key: "x", Desc: "discard the take in progress"},
	}},
	{Keys: []widgets.KeyBinding{
		{Key: "?", Desc: "toggle help"},
		{Key: "q", Desc: "quit"},
	}},
}
