package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"agribot/encoder"
)

// MinDuration is the shortest recording worth sending for transcription.
const MinDuration = 100 * time.Millisecond

// Blob is a finished recording.
type Blob struct {
	Data     []byte
	MimeType string
	Filename string
	Duration time.Duration
	// EncodeTime is the CPU time spent compressing, summed over blocks.
	EncodeTime time.Duration
}

func (b Blob) Empty() bool { return len(b.Data) == 0 }

// TooShort reports whether the clip is below MinDuration.
func (b Blob) TooShort() bool { return b.Duration < MinDuration }

type RecorderConfig struct {
	Device   *DeviceInfo
	Format   string // encoder format, webm when empty
	VADMode  int    // webrtc aggressiveness, 0..3
	AutoStop bool   // end the recording after 30s without speech

	OnLevel   func(rms float64)
	OnTick    func(elapsed time.Duration)
	OnSilence func(ev SilenceEvent)
}

// Recorder owns the microphone for the duration of one recording at a time.
// The capture device is acquired on Start and released on Stop or Release.
type Recorder struct {
	ctx Context
	cfg RecorderConfig

	mu     sync.Mutex
	active *Recording
}

func NewRecorder(ctx Context, cfg RecorderConfig) *Recorder {
	return &Recorder{ctx: ctx, cfg: cfg}
}

// Recording is the handle for an in-progress capture.
type Recording struct {
	capture    CaptureDevice
	enc        encoder.Encoder
	vad        *vadProcessor
	cfg        RecorderConfig
	started    time.Time
	blockChan  chan []int16
	encodeDone chan struct{}

	bufMu     sync.Mutex
	sampleBuf []int16
	stopped   bool

	done      chan struct{}
	autoStop  chan struct{}
	closeOnce sync.Once
}

func (r *Recorder) Start() (*Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, ErrBusy
	}
	if r.ctx == nil {
		return nil, ErrDeviceUnavailable
	}

	enc, err := encoder.New(r.cfg.Format)
	if err != nil {
		return nil, err
	}
	vad, err := newVADProcessor(r.cfg.VADMode)
	if err != nil {
		return nil, fmt.Errorf("voice detector: %w", err)
	}
	capture, err := r.ctx.NewCapture(r.cfg.Device, CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, deviceError(err)
	}

	rec := &Recording{
		capture:    capture,
		enc:        enc,
		vad:        vad,
		cfg:        r.cfg,
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
		done:       make(chan struct{}),
		autoStop:   make(chan struct{}),
	}
	go rec.encodeLoop()

	capture.SetCallback(rec.onData)
	rec.started = time.Now()
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		rec.drain()
		return nil, deviceError(err)
	}
	go rec.monitor()

	r.active = rec
	return rec, nil
}

// deviceError classifies a host failure as ErrDeviceUnavailable, keeping
// errors that already carry it (and the device name) as they are.
func deviceError(err error) error {
	if errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

// Stop finalizes rec into a Blob and releases the device. Stopping a nil,
// foreign or already stopped handle is a no-op.
func (r *Recorder) Stop(rec *Recording) (Blob, error) {
	r.mu.Lock()
	if rec == nil || rec != r.active {
		r.mu.Unlock()
		return Blob{}, nil
	}
	r.active = nil
	r.mu.Unlock()

	rec.halt()
	rec.drain()
	if err := rec.enc.Close(); err != nil {
		return Blob{}, fmt.Errorf("encoding recording: %w", err)
	}
	return Blob{
		Data:       rec.enc.Bytes(),
		MimeType:   rec.enc.MimeType(),
		Filename:   "recording." + rec.enc.Extension(),
		Duration:   encoder.Duration(rec.enc.TotalFrames()),
		EncodeTime: rec.enc.EncodeTime(),
	}, nil
}

// Release abandons any active recording and frees the device.
func (r *Recorder) Release() {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()
	if rec != nil {
		rec.halt()
		rec.drain()
	}
}

// Active returns the in-progress recording, if any.
func (r *Recorder) Active() *Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// AutoStopped is closed when the silence monitor ends the recording. The
// owner still calls Recorder.Stop to collect the blob.
func (rec *Recording) AutoStopped() <-chan struct{} { return rec.autoStop }

func (rec *Recording) Elapsed() time.Duration { return time.Since(rec.started) }

func (rec *Recording) DeviceName() string { return rec.capture.DeviceName() }

func (rec *Recording) VoiceDetected() bool { return rec.vad.VoiceDetected() }

func (rec *Recording) onData(data []byte, _ uint32) {
	rec.bufMu.Lock()
	defer rec.bufMu.Unlock()
	if rec.stopped {
		return
	}

	for i := 0; i+1 < len(data); i += 2 {
		rec.sampleBuf = append(rec.sampleBuf, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	for len(rec.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, rec.sampleBuf[:encoder.BlockSize])
		rec.sampleBuf = rec.sampleBuf[encoder.BlockSize:]
		rec.blockChan <- block
	}

	if len(data) > 1 {
		if rec.cfg.OnLevel != nil {
			rec.cfg.OnLevel(RMS(data))
		}
		rec.vad.Process(data)
	}
}

func (rec *Recording) encodeLoop() {
	defer close(rec.encodeDone)
	for block := range rec.blockChan {
		start := time.Now()
		rec.enc.EncodeBlock(block)
		rec.enc.AddEncodeTime(time.Since(start))
	}
}

func (rec *Recording) monitor() {
	mon := newSilenceMonitor(rec.cfg.AutoStop)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rec.done:
			return
		case <-ticker.C:
			if rec.cfg.OnTick != nil {
				rec.cfg.OnTick(rec.Elapsed())
			}
			ev := mon.Tick(rec.vad.HasSpeechTick())
			if ev == SilenceNone {
				continue
			}
			if rec.cfg.OnSilence != nil {
				rec.cfg.OnSilence(ev)
			}
			if ev == SilenceAutoClose {
				close(rec.autoStop)
				return
			}
		}
	}
}

// halt stops the device and the monitor; safe to call more than once.
func (rec *Recording) halt() {
	rec.closeOnce.Do(func() {
		close(rec.done)
		rec.capture.Stop()
		rec.capture.ClearCallback()
		rec.capture.Close()
	})
}

// drain flushes buffered samples and waits for the encoder goroutine.
func (rec *Recording) drain() {
	rec.bufMu.Lock()
	if !rec.stopped {
		rec.stopped = true
		if len(rec.sampleBuf) > 0 {
			partial := make([]int16, len(rec.sampleBuf))
			copy(partial, rec.sampleBuf)
			rec.sampleBuf = nil
			rec.blockChan <- partial
		}
		close(rec.blockChan)
	}
	rec.bufMu.Unlock()
	<-rec.encodeDone
}
