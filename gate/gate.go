package gate

import (
	"slices"
	"sort"

	"pianocapture/notes"
)

// DefaultQuantum groups note starts closer than 10ms into one gate.
const DefaultQuantum = 0.010

// Gate is a point in the score where guided playback waits for the player.
type Gate struct {
	Index int
	Time  float64
	// Required pitches, ascending.
	Required []int
	// FreshPress is the subset of Required that the previous gate also
	// required. Those keys must be struck again; holding them over does
	// not count.
	FreshPress []int
	// NoteIDs are indices into the sequence's Notes.
	NoteIDs []int
}

// IsFresh reports whether pitch must be re-struck for this gate.
func (g Gate) IsFresh(pitch int) bool {
	_, ok := slices.BinarySearch(g.FreshPress, pitch)
	return ok
}

// Build derives gates from a sequence. A note joins the current gate when it
// starts less than quantum after the gate's earliest note, and opens a new
// gate otherwise. A quantum <= 0 uses DefaultQuantum.
func Build(seq *notes.Sequence, quantum float64) []Gate {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	ids := make([]int, len(seq.Notes))
	for i := range ids {
		ids[i] = i
	}
	sort.SliceStable(ids, func(a, b int) bool {
		return seq.Notes[ids[a]].StartTime < seq.Notes[ids[b]].StartTime
	})

	var gates []Gate
	for _, id := range ids {
		n := seq.Notes[id]
		if len(gates) == 0 || n.StartTime-gates[len(gates)-1].Time >= quantum {
			gates = append(gates, Gate{Index: len(gates), Time: n.StartTime})
		}
		g := &gates[len(gates)-1]
		g.NoteIDs = append(g.NoteIDs, id)
		if !slices.Contains(g.Required, n.Pitch) {
			g.Required = append(g.Required, n.Pitch)
		}
	}

	var prev []int
	for i := range gates {
		g := &gates[i]
		sort.Ints(g.Required)
		for _, p := range g.Required {
			if _, ok := slices.BinarySearch(prev, p); ok {
				g.FreshPress = append(g.FreshPress, p)
			}
		}
		prev = g.Required
	}
	return gates
}
