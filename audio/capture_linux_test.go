//go:build linux

package audio

import (
	"encoding/binary"
	"testing"
)

func TestAmplify(t *testing.T) {
	tests := []struct {
		in, want int16
	}{
		{0, 0},
		{100, 800},
		{-100, -800},
		{4095, 32760},
		{4096, 32767},
		{-4096, -32768},
		{-32768, -32768},
	}
	in := make([]int16, len(tests))
	for i, tt := range tests {
		in[i] = tt.in
	}
	out := amplify(in)
	if len(out) != len(in)*2 {
		t.Fatalf("len = %d, want %d", len(out), len(in)*2)
	}
	for i, tt := range tests {
		if got := int16(binary.LittleEndian.Uint16(out[i*2:])); got != tt.want {
			t.Errorf("amplify(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPulseCaptureDeliver(t *testing.T) {
	c := &pulseCapture{}
	if n, _ := c.deliver([]int16{1, 2}); n != 2 {
		t.Errorf("deliver without callback = %d, want 2", n)
	}
	var frames uint32
	var data []byte
	c.SetCallback(func(d []byte, n uint32) { data, frames = d, n })
	if n, _ := c.deliver([]int16{1, 2, 3}); n != 3 {
		t.Errorf("deliver = %d, want 3", n)
	}
	if frames != 3 || len(data) != 6 {
		t.Errorf("callback got %d frames, %d bytes", frames, len(data))
	}
	c.ClearCallback()
	data = nil
	c.deliver([]int16{1})
	if data != nil {
		t.Error("callback ran after ClearCallback")
	}
	if c.DeviceName() != "system default" {
		t.Errorf("DeviceName = %q", c.DeviceName())
	}
}
