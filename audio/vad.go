package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"agribot/encoder"
)

const (
	vadFrameMs    = 20
	vadFrameBytes = encoder.SampleRate * vadFrameMs / 1000 * 2 // 640 bytes
	vadDebounce   = 3                                          // consecutive speech frames to confirm voice

	// DefaultVADMode is webrtc's most aggressive setting.
	DefaultVADMode = 3

	speechThreshold = 0.10 // 10% of frames must be speech to count as "speaking"
)

// frameClassifier decides whether one 20ms frame of s16le PCM holds speech.
// *webrtcvad.VAD satisfies it.
type frameClassifier interface {
	Process(sampleRate int, frame []byte) (bool, error)
}

// vadProcessor buffers capture callbacks into fixed frames and keeps
// speech statistics for the silence monitor.
type vadProcessor struct {
	vad frameClassifier

	mu            sync.Mutex
	buf           []byte
	voiceDetected bool
	lastVoiceTime time.Time
	speechRun     int
	totalFrames   int
	speechFrames  int
	tickTotal     int
	tickSpeech    int
}

// newVADProcessor builds a webrtc voice detector; mode runs 0 (permissive)
// to 3 (aggressive).
func newVADProcessor(mode int) (*vadProcessor, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("vad mode %d out of range [0, 3]", mode)
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(mode); err != nil {
		return nil, err
	}
	return &vadProcessor{vad: v}, nil
}

// RMS returns the root mean square of s16le PCM, normalised to 0..1.
// It drives the level meter only; speech decisions belong to the VAD.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(len(pcm)/2))
}

func (p *vadProcessor) Process(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, data...)
	for len(p.buf) >= vadFrameBytes {
		frame := p.buf[:vadFrameBytes]
		p.buf = p.buf[vadFrameBytes:]

		active, err := p.vad.Process(encoder.SampleRate, frame)
		if err != nil {
			continue
		}
		p.totalFrames++
		if !active {
			p.speechRun = 0
			continue
		}
		p.speechFrames++
		p.speechRun++
		switch {
		case p.voiceDetected:
			p.lastVoiceTime = time.Now()
		case p.speechRun >= vadDebounce:
			p.voiceDetected = true
			p.lastVoiceTime = time.Now()
		}
	}
}

func (p *vadProcessor) VoiceDetected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceDetected
}

func (p *vadProcessor) LastVoiceTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastVoiceTime
}

func (p *vadProcessor) Stats() (total, speech int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalFrames, p.speechFrames
}

// HasSpeechTick reports whether enough frames since the previous call were speech.
func (p *vadProcessor) HasSpeechTick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.totalFrames - p.tickTotal
	s := p.speechFrames - p.tickSpeech
	p.tickTotal, p.tickSpeech = p.totalFrames, p.speechFrames
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechThreshold
}

func (p *vadProcessor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = p.buf[:0]
	p.voiceDetected = false
	p.lastVoiceTime = time.Time{}
	p.speechRun = 0
}
