//go:build !linux

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

type malgoOutput struct {
	ctx *malgo.AllocatedContext
	mu  sync.Mutex
}

func NewOutput() (Output, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	return &malgoOutput{ctx: ctx}, nil
}

func (o *malgoOutput) Play(ctx context.Context, clip Clip) error {
	if len(clip.Samples) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	data := make([]byte, len(clip.Samples)*2)
	for i, s := range clip.Samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(clip.Channels)
	config.SampleRate = uint32(clip.SampleRate)

	var (
		pos      int
		doneOnce sync.Once
		drained  = make(chan struct{})
	)
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			n := copy(pOutput, data[pos:])
			pos += n
			clear(pOutput[n:])
			if pos >= len(data) {
				doneOnce.Do(func() { close(drained) })
			}
		},
	}

	device, err := malgo.InitDevice(o.ctx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	select {
	case <-drained:
	case <-ctx.Done():
	}
	device.Stop()
	return ctx.Err()
}

func (o *malgoOutput) Close() {
	o.ctx.Uninit()
	o.ctx.Free()
}
