package encoder

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder writes 16-bit mono PCM as a FLAC stream, one frame per block.
type FlacEncoder struct {
	encodeClock

	mu     sync.Mutex
	buf    bytes.Buffer
	enc    *flac.Encoder
	frames uint64
	closed bool
}

func NewFlac() (*FlacEncoder, error) {
	e := &FlacEncoder{}
	enc, err := flac.NewEncoder(&e.buf, &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	})
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

// monoFrame wraps one block as a single verbatim subframe; the encoder's
// prediction analysis picks the actual coding.
func monoFrame(block []int16) *frame.Frame {
	samples := make([]int32, len(block))
	for i, s := range block {
		samples[i] = int32(s)
	}
	return &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  len(block),
		}},
	}
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return errClosed
	case len(block) == 0:
		return nil
	}
	if err := e.enc.WriteFrame(monoFrame(block)); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.frames += uint64(len(block))
	return nil
}

// Close flushes the stream. STREAMINFO is only rewritten for seekable
// writers, so the sample count in the header stays 0.
func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.enc.Close()
}

func (e *FlacEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Bytes()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

func (e *FlacEncoder) MimeType() string  { return "audio/flac" }
func (e *FlacEncoder) Extension() string { return FormatFlac }
