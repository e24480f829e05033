package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

var (
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	segmentID = []byte{0x18, 0x53, 0x80, 0x67}
	clusterID = []byte{0x1F, 0x43, 0xB6, 0x75}
	docTypeID = []byte{0x42, 0x82}
)

// docType returns the DocType string of an EBML header.
func docType(t *testing.T, out []byte) string {
	t.Helper()
	i := bytes.Index(out, docTypeID)
	if i < 0 {
		t.Fatal("DocType element not found")
	}
	size := out[i+2]
	if size&0x80 == 0 {
		t.Fatalf("DocType size % X is not a one-byte vint", size)
	}
	n := int(size &^ 0x80)
	return string(out[i+3 : i+3+n])
}

func TestWebmEncoder(t *testing.T) {
	samples := sine(SampleRate*3, 300)

	enc := NewWebm()
	fed := feed(t, enc, samples)
	enc.AddEncodeTime(time.Millisecond)
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if enc.TotalFrames() != fed {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), fed)
	}
	if enc.EncodeTime() != time.Millisecond {
		t.Errorf("EncodeTime = %v, want 1ms", enc.EncodeTime())
	}

	out := enc.Bytes()
	if !bytes.HasPrefix(out, ebmlMagic) {
		t.Fatalf("missing EBML magic: % X", out[:min(8, len(out))])
	}
	if got := docType(t, out); got != "webm" {
		t.Errorf("DocType = %q, want webm", got)
	}
	if !bytes.Contains(out, segmentID) {
		t.Error("Segment element not found")
	}
	if !bytes.Contains(out, []byte(pcmCodec)) {
		t.Error("codec id not found")
	}
	if !bytes.Contains(out, clusterID) {
		t.Error("no Cluster element for 3s of audio")
	}

	// Raw PCM must be carried unmodified, including the last block.
	first := make([]byte, 8)
	for i := range 4 {
		binary.LittleEndian.PutUint16(first[i*2:], uint16(samples[i]))
	}
	if !bytes.Contains(out, first) {
		t.Error("first PCM samples not found in output")
	}
	last := make([]byte, 8)
	for i := range 4 {
		binary.LittleEndian.PutUint16(last[i*2:], uint16(samples[len(samples)-4+i]))
	}
	if !bytes.Contains(out, last) {
		t.Error("last PCM samples not found in output")
	}
	if enc.MimeType() != "audio/webm" || enc.Extension() != "webm" {
		t.Errorf("MimeType/Extension = %q/%q", enc.MimeType(), enc.Extension())
	}
}

func TestWebmEncoderAfterClose(t *testing.T) {
	enc := NewWebm()
	if err := enc.EncodeBlock(nil); err != nil {
		t.Fatalf("empty block: %v", err)
	}
	if enc.Bytes() != nil {
		t.Error("Bytes before Close should be nil")
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bytes.Contains(enc.Bytes(), clusterID) {
		t.Error("empty recording should have no clusters")
	}
	if err := enc.EncodeBlock(sine(BlockSize, 440)); !errors.Is(err, errClosed) {
		t.Errorf("EncodeBlock after Close = %v, want errClosed", err)
	}
	if err := enc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
