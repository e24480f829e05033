package beep

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"agribot/audio"
)

const (
	sampleRate = 44100

	// Start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30

	tickDuration = 0.2
)

var (
	startClip audio.Clip
	endClip   audio.Clip
	errorClip audio.Clip
	soundOnce sync.Once
)

func initSound() {
	startClip = Tick(startFreq, tickDuration, startVolume, startDecay)
	endClip = Tick(endFreq, tickDuration, endVolume, endDecay)
	errorClip = DoubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

// Tick synthesizes a decaying stereo sine at 44.1kHz.
func Tick(freq, duration, volume, decay float64) audio.Clip {
	n := int(sampleRate * duration)
	samples := make([]int16, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		samples[i*2] = s
		samples[i*2+1] = s
	}
	return audio.Clip{Samples: samples, SampleRate: sampleRate, Channels: 2}
}

// DoubleBeep is two ticks separated by gap seconds of silence.
func DoubleBeep(freq, beepDur, gapDur, volume, decay float64) audio.Clip {
	beep := Tick(freq, beepDur, volume, decay).Samples
	gap := make([]int16, int(sampleRate*gapDur)*2)
	samples := make([]int16, 0, len(beep)*2+len(gap))
	samples = append(samples, beep...)
	samples = append(samples, gap...)
	samples = append(samples, beep...)
	return audio.Clip{Samples: samples, SampleRate: sampleRate, Channels: 2}
}

// Player plays recording cues on an output. A nil Player or one without an
// output is silent.
type Player struct {
	out      audio.Output
	disabled atomic.Bool
	wg       sync.WaitGroup
}

func New(out audio.Output) *Player {
	soundOnce.Do(initSound)
	return &Player{out: out}
}

func (p *Player) Disable() {
	if p != nil {
		p.disabled.Store(true)
	}
}

func (p *Player) PlayStart() { p.async(startClip) }
func (p *Player) PlayEnd()   { p.async(endClip) }
func (p *Player) PlayError() { p.async(errorClip) }

// Wait blocks until queued cues have finished.
func (p *Player) Wait() {
	if p != nil {
		p.wg.Wait()
	}
}

func (p *Player) async(clip audio.Clip) {
	if p == nil || p.out == nil || p.disabled.Load() {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.out.Play(context.Background(), clip)
	}()
}
