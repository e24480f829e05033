package encoder

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

// Container formats accepted by New.
const (
	FormatWebm = "webm"
	FormatFlac = "flac"
)

var errClosed = errors.New("encoder closed")

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
	MimeType() string
	Extension() string
}

func New(format string) (Encoder, error) {
	switch format {
	case FormatWebm, "":
		return NewWebm(), nil
	case FormatFlac:
		return NewFlac()
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Formats lists the names New accepts, default first.
func Formats() []string {
	return []string{FormatWebm, FormatFlac}
}

// Duration is the audio length represented by n mono frames.
func Duration(frames uint64) time.Duration {
	return time.Duration(frames) * time.Second / SampleRate
}

// encodeClock accumulates time spent encoding. The recorder's encode loop
// adds to it while the UI goroutine reads it.
type encodeClock struct {
	clockMu sync.Mutex
	spent   time.Duration
}

func (c *encodeClock) AddEncodeTime(d time.Duration) {
	c.clockMu.Lock()
	c.spent += d
	c.clockMu.Unlock()
}

func (c *encodeClock) EncodeTime() time.Duration {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	return c.spent
}
