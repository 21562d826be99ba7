package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pianocapture/theme"
)

// KeyState is how a key is drawn on the strip. Higher states win.
type KeyState int

const (
	KeyIdle KeyState = iota
	KeySounding
	KeyPending
	KeyHeld
)

const (
	defaultLow  = 48 // C3
	defaultHigh = 84 // C6
)

var blackKeys = [12]bool{1: true, 3: true, 6: true, 8: true, 10: true}

// KeyStates merges the highlight sets into one map.
func KeyStates(held, pending, sounding []int) map[int]KeyState {
	states := make(map[int]KeyState)
	set := func(pitches []int, s KeyState) {
		for _, p := range pitches {
			if states[p] < s {
				states[p] = s
			}
		}
	}
	set(sounding, KeySounding)
	set(pending, KeyPending)
	set(held, KeyHeld)
	return states
}

// KeyRange returns an octave-aligned range covering C3-C6 and every pitch
// in states.
func KeyRange(states map[int]KeyState) (lo, hi int) {
	lo, hi = defaultLow, defaultHigh
	for p := range states {
		lo = min(lo, p)
		hi = max(hi, p)
	}
	lo -= lo % 12
	if r := hi % 12; r != 0 {
		hi += 12 - r
	}
	return lo, min(hi, 127)
}

// RenderKeyboard draws one cell per pitch from lo to hi inclusive.
func RenderKeyboard(th *theme.Theme, lo, hi int, states map[int]KeyState) string {
	sym := th.Symbols
	idleWhite := lipgloss.NewStyle().Foreground(th.FG())
	idleBlack := lipgloss.NewStyle().Foreground(th.Muted())
	held := lipgloss.NewStyle().Foreground(th.Active())
	pending := lipgloss.NewStyle().Foreground(th.Warning())
	sounding := lipgloss.NewStyle().Foreground(th.Accent())

	var out strings.Builder
	for p := lo; p <= hi; p++ {
		switch states[p] {
		case KeyHeld:
			out.WriteString(held.Render(string(sym.KeyHeld)))
		case KeyPending:
			out.WriteString(pending.Render(string(sym.KeyPending)))
		case KeySounding:
			out.WriteString(sounding.Render(string(sym.KeySounding)))
		default:
			if blackKeys[p%12] {
				out.WriteString(idleBlack.Render(string(sym.KeyBlack)))
			} else {
				out.WriteString(idleWhite.Render(string(sym.KeyWhite)))
			}
		}
	}
	return out.String()
}

// RenderBeats draws one dot per beat of the bar, lighting the current one.
func RenderBeats(th *theme.Theme, numerator, current int) string {
	on := lipgloss.NewStyle().Foreground(th.Success())
	accent := lipgloss.NewStyle().Foreground(th.Active())
	off := lipgloss.NewStyle().Foreground(th.Muted())

	cells := make([]string, numerator)
	for i := range cells {
		switch {
		case i == current && i == 0:
			cells[i] = accent.Render(string(th.Symbols.BeatAccent))
		case i == current:
			cells[i] = on.Render(string(th.Symbols.BeatOn))
		default:
			cells[i] = off.Render(string(th.Symbols.BeatOff))
		}
	}
	return strings.Join(cells, " ")
}

// RenderProgress draws a bar width cells wide, filled to fraction.
func RenderProgress(th *theme.Theme, fraction float64, width int, color lipgloss.Color) string {
	fraction = min(max(fraction, 0), 1)
	full := int(fraction*float64(width) + 0.5)
	fill := lipgloss.NewStyle().Foreground(color)
	empty := lipgloss.NewStyle().Foreground(th.Muted())
	return fill.Render(strings.Repeat(string(th.Symbols.BarFull), full)) +
		empty.Render(strings.Repeat(string(th.Symbols.BarEmpty), width-full))
}

// RenderKeyHelp formats key bindings in a friendly way
func RenderKeyHelp(sections []KeySection) string {
	var lines []string
	for _, sec := range sections {
		if sec.Title != "" {
			lines = append(lines, sec.Title)
		}
		for _, k := range sec.Keys {
			lines = append(lines, fmt.Sprintf("  %-12s %s", k.Key, k.Desc))
		}
	}
	return strings.Join(lines, "\n")
}

// KeySection groups related key bindings
type KeySection struct {
	Title string
	Keys  []KeyBinding
}

// KeyBinding is a single key and its description
type KeyBinding struct {
	Key  string
	Desc string
}
