package game

import (
	"math"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

const cueSampleRate = beep.SampleRate(44100)

// Cue plays a short tone through the speaker, marking stimulus onset.
type Cue struct {
	freq   float64
	length time.Duration
}

// NewCue initializes the speaker and returns a cue of the given pitch and
// length.
func NewCue(freq float64, length time.Duration) (*Cue, error) {
	if err := speaker.Init(cueSampleRate, cueSampleRate.N(time.Second/20)); err != nil {
		return nil, err
	}
	return &Cue{freq: freq, length: length}, nil
}

// Play starts the tone and returns immediately.
func (c *Cue) Play() {
	speaker.Play(tone(cueSampleRate, c.freq, c.length))
}

// tone returns a sine wave streamer with a short linear fade at both ends so
// the tone starts and stops without clicks.
func tone(sr beep.SampleRate, freq float64, d time.Duration) beep.Streamer {
	const amplitude = 0.3

	n := sr.N(d)
	fade := sr.N(5 * time.Millisecond)
	if 2*fade > n {
		fade = n / 2
	}
	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= n {
			return 0, false
		}
		i := 0
		for ; i < len(samples) && pos < n; i++ {
			env := 1.0
			if fade > 0 {
				env = clamp01(math.Min(float64(pos), float64(n-1-pos)) / float64(fade))
			}
			v := amplitude * env * math.Sin(2*math.Pi*freq*float64(pos)/float64(sr))
			samples[i] = [2]float64{v, v}
			pos++
		}
		return i, true
	})
}
