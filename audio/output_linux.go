//go:build linux

package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseOutput struct {
	client *pulse.Client
	mu     sync.Mutex
}

func NewOutput() (Output, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("agribot"))
	if err != nil {
		return nil, fmt.Errorf("%w: pulse: %v", ErrPlayback, err)
	}
	return &pulseOutput{client: c}, nil
}

func (o *pulseOutput) Play(ctx context.Context, clip Clip) error {
	if len(clip.Samples) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	var cancelled atomic.Bool
	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if cancelled.Load() || pos >= len(clip.Samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, clip.Samples[pos:])
		pos += n
		return n, nil
	})

	layout := pulse.PlaybackMono
	volumes := proto.ChannelVolumes{uint32(proto.VolumeNorm)}
	if clip.Channels == 2 {
		layout = pulse.PlaybackStereo
		volumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
	}
	stream, err := o.client.NewPlayback(reader,
		layout,
		pulse.PlaybackSampleRate(clip.SampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = volumes
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	defer stream.Close()

	drained := make(chan struct{})
	stream.Start()
	go func() {
		stream.Drain()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		cancelled.Store(true)
		<-drained
	}
	stream.Stop()
	return ctx.Err()
}

func (o *pulseOutput) Close() {
	o.client.Close()
}
