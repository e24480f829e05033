package audio

import (
	"context"
	"errors"
	"strings"
)

const WAVHeaderSize = 44

var (
	// ErrDeviceUnavailable is returned when the host refuses microphone
	// access or no capture device exists.
	ErrDeviceUnavailable = errors.New("microphone unavailable")
	// ErrBusy is returned by Recorder.Start while a recording is active.
	ErrBusy = errors.New("recording already in progress")
	// ErrPlayback wraps failures decoding or playing a speech clip.
	ErrPlayback = errors.New("playback failed")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// Clip is interleaved signed 16-bit PCM ready for an Output.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Output plays clips on the host speaker. Play blocks until the clip has
// drained or ctx is cancelled.
type Output interface {
	Play(ctx context.Context, clip Clip) error
	Close()
}
