package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/at-wat/ebml-go/webm"
)

const (
	webmTrack      = 1
	trackTypeAudio = 2
	pcmCodec       = "A_PCM/INT/LIT"
)

// sinkBuffer is the io.WriteCloser handed to the muxer. done is closed once
// the muxer has flushed its last element.
type sinkBuffer struct {
	bytes.Buffer
	done chan struct{}
	once sync.Once
}

func (b *sinkBuffer) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

// WebmEncoder muxes 16-bit mono PCM into a WebM stream, one SimpleBlock per
// encoder block, timestamped in milliseconds.
type WebmEncoder struct {
	encodeClock

	mu          sync.Mutex
	sink        *sinkBuffer
	track       webm.BlockWriteCloser
	err         error
	totalFrames uint64
	closed      bool
}

func NewWebm() *WebmEncoder {
	e := &WebmEncoder{sink: &sinkBuffer{done: make(chan struct{})}}
	writers, err := webm.NewSimpleBlockWriter(e.sink, []webm.TrackEntry{{
		Name:        "microphone",
		TrackNumber: webmTrack,
		TrackUID:    webmTrack,
		CodecID:     pcmCodec,
		TrackType:   trackTypeAudio,
		Audio: &webm.Audio{
			SamplingFrequency: SampleRate,
			Channels:          Channels,
		},
	}})
	switch {
	case err != nil:
		e.err = fmt.Errorf("creating webm writer: %w", err)
	case len(writers) != 1:
		e.err = fmt.Errorf("creating webm writer: got %d tracks", len(writers))
	default:
		e.track = writers[0]
	}
	return e
}

func (e *WebmEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return errClosed
	case e.err != nil:
		return e.err
	case len(block) == 0:
		return nil
	}

	data := make([]byte, len(block)*2)
	for i, s := range block {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	ts := int64(e.totalFrames) * 1000 / SampleRate
	if _, err := e.track.Write(true, ts, data); err != nil {
		e.err = fmt.Errorf("writing webm block: %w", err)
		return e.err
	}
	e.totalFrames += uint64(len(block))
	return nil
}

// Close finishes the stream and waits for the muxer to flush it.
func (e *WebmEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.track == nil {
		return e.err
	}
	if err := e.track.Close(); err != nil {
		return fmt.Errorf("closing webm writer: %w", err)
	}
	<-e.sink.done
	return e.err
}

// Bytes returns the stream once Close has returned, nil before.
func (e *WebmEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed || e.track == nil {
		return nil
	}
	return e.sink.Bytes()
}

func (e *WebmEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *WebmEncoder) MimeType() string  { return "audio/webm" }
func (e *WebmEncoder) Extension() string { return FormatWebm }
