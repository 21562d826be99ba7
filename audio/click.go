package audio

import (
	"math"
	"time"
)

const (
	accentFreq  = 1760.0
	regularFreq = 1320.0
	clickLength = 30 * time.Millisecond
)

// synthClick renders a decaying cosine burst. The first sample is at full
// level so the onset lands exactly on the scheduled frame.
func synthClick(rate int, freq float64, length time.Duration, gain float64) []float32 {
	n := int(length.Seconds() * float64(rate))
	out := make([]float32, n)
	tau := length.Seconds() / 5
	for i := range out {
		t := float64(i) / float64(rate)
		out[i] = float32(gain * math.Cos(2*math.Pi*freq*t) * math.Exp(-t/tau))
	}
	return out
}
