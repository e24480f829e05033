package audio

import (
	"context"
	"os"
	"sync"
	"time"

	"agribot/encoder"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays PCM in place of a microphone. With realtime set,
// chunks are paced at the capture sample rate and followed by silence;
// otherwise the whole clip is delivered inside Start.
type FakeContext struct {
	mu       sync.Mutex
	pcm      []byte
	realtime bool
	err      error
	opened   int
	open     int
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return &FakeContext{pcm: data, realtime: realtime}, nil
}

// NewFakeContextPCM replays raw s16le mono PCM.
func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

// SetPCM replaces the clip delivered by subsequent captures.
func (f *FakeContext) SetPCM(pcm []byte) {
	f.mu.Lock()
	f.pcm = pcm
	f.mu.Unlock()
}

// SetError makes NewCapture fail with err, simulating a denied microphone.
func (f *FakeContext) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Opened is the number of captures created; Open is how many are not yet closed.
func (f *FakeContext) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *FakeContext) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.opened++
	f.open++
	return &FakeCapture{ctx: f, pcm: f.pcm, realtime: f.realtime, audioDone: make(chan struct{})}, nil
}

type FakeCapture struct {
	ctx       *FakeContext
	pcm       []byte
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
	closed   bool
}

// AudioDone is closed once the whole clip has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		if cb := f.callback(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)
		close(f.feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(encoder.SampleRate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			cb := f.callback()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos, chunkBytes)
			} else {
				if !audioFinished {
					audioFinished = true
					close(f.audioDone)
				}
				cb(silence, fakeFrameSize)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.ctx.mu.Lock()
	f.ctx.open--
	f.ctx.mu.Unlock()
}

// FakeOutput records clips instead of playing them. Each Play blocks for
// Delay or until cancelled.
type FakeOutput struct {
	Delay time.Duration

	mu     sync.Mutex
	played []Clip
}

func (o *FakeOutput) Play(ctx context.Context, clip Clip) error {
	o.mu.Lock()
	o.played = append(o.played, clip)
	o.mu.Unlock()
	if o.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(o.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *FakeOutput) Played() []Clip {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Clip(nil), o.played...)
}

func (o *FakeOutput) Close() {}
