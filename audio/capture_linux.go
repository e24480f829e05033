//go:build linux

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

const (
	// PulseAudio capture is boosted at the stream and again per sample.
	captureGain   = 8
	streamVolume  = 3
	recordLatency = 0.05
)

var errCaptureStarted = errors.New("capture already started")

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("agribot"))
	if err != nil {
		return nil, fmt.Errorf("%w: pulse: %v", ErrDeviceUnavailable, err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(sources))
	for _, s := range sources {
		devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
	}
	return devices, nil
}

// resolve finds the pulse source for device, or the server default when
// device is nil.
func (p *pulseContext) resolve(device *DeviceInfo) (*pulse.Source, error) {
	if device == nil {
		src, err := p.client.DefaultSource()
		if err != nil {
			return nil, fmt.Errorf("%w: no default pulse source: %v", ErrDeviceUnavailable, err)
		}
		return src, nil
	}
	src, err := p.client.SourceByID(device.ID)
	if err != nil || src == nil {
		return nil, fmt.Errorf("%w: pulse source %q: %v", ErrDeviceUnavailable, device.Name, err)
	}
	return src, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	src, err := p.resolve(device)
	if err != nil {
		return nil, err
	}
	return &pulseCapture{client: p.client, source: src, config: config}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

// pulseCapture records one mono stream from a resolved source. The source
// name doubles as the device name, so the Bluetooth check also works for
// the server default.
type pulseCapture struct {
	client   *pulse.Client
	source   *pulse.Source
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]

	mu     sync.Mutex
	stream *pulse.RecordStream
	stop   chan struct{}
	done   chan struct{}
}

// amplify applies captureGain with clipping and packs s16le bytes.
func amplify(buf []int16) []byte {
	data := make([]byte, len(buf)*2)
	for i, s := range buf {
		v := max(min(int32(s)*captureGain, 32767), -32768)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(v)))
	}
	return data
}

func (c *pulseCapture) deliver(buf []int16) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if cb := c.callback.Load(); cb != nil {
		(*cb)(amplify(buf), uint32(len(buf)))
	}
	return len(buf), nil
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return errCaptureStarted
	}

	stream, err := c.client.NewRecord(pulse.Int16Writer(c.deliver),
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(recordLatency),
		pulse.RecordSource(c.source),
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm) * streamVolume}
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: recording from %q: %v", ErrDeviceUnavailable, c.DeviceName(), err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		stream.Start()
		<-stop
		stream.Stop()
		stream.Close()
	}(c.stop, c.done)
	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stream = nil
}

func (c *pulseCapture) Close() { c.Stop() }

func (c *pulseCapture) SetCallback(cb DataCallback) { c.callback.Store(&cb) }

func (c *pulseCapture) ClearCallback() { c.callback.Store(nil) }

func (c *pulseCapture) DeviceName() string {
	if c.source == nil {
		return "system default"
	}
	return c.source.Name()
}
