package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 file to interleaved stereo PCM.
func DecodeMP3(data []byte) (Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("%w: decoding mp3: %v", ErrPlayback, err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: decoding mp3: %v", ErrPlayback, err)
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
	}
	return Clip{Samples: samples, SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// Player plays one speech clip at a time. Starting a clip stops the one
// already playing.
type Player struct {
	out Output

	mu      sync.Mutex
	key     string
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewPlayer(out Output) *Player {
	return &Player{out: out}
}

// Play decodes data and starts playback in the background. onDone, if set,
// runs when the clip finishes or is stopped; a stop is not reported as an error.
func (p *Player) Play(key string, data []byte, onDone func(err error)) error {
	if p.out == nil {
		return fmt.Errorf("%w: no output device", ErrPlayback)
	}
	clip, err := DecodeMP3(data)
	if err != nil {
		return err
	}
	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	p.mu.Lock()
	p.key, p.cancel, p.stopped = key, cancel, stopped
	p.mu.Unlock()

	go func() {
		defer close(stopped)
		err := p.out.Play(ctx, clip)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		p.mu.Lock()
		if p.stopped == stopped {
			p.key, p.cancel, p.stopped = "", nil, nil
		}
		p.mu.Unlock()
		cancel()
		if onDone != nil {
			onDone(err)
		}
	}()
	return nil
}

// Stop interrupts the current clip and waits for it to finish.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel, stopped := p.cancel, p.stopped
	p.key, p.cancel, p.stopped = "", nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Playing returns the key of the clip in progress, or "".
func (p *Player) Playing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}
