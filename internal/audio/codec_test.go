package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for n := 0; n <= 7; n++ {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(0xF0 + i)
		}
		got, err := Decode(Encode(b))
		if err != nil {
			t.Fatalf("len %d: decode: %v", n, err)
		}
		if !bytes.Equal(got, b) {
			t.Fatalf("len %d: round trip mismatch: want=%v got=%v", n, b, got)
		}
	}
}

func TestDecodeRejectsInvalidText(t *testing.T) {
	if _, err := Decode("not base64!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}

// Every int16 must survive int16 -> float -> int16 unchanged.
func TestPCMRoundTripAllValues(t *testing.T) {
	in := make([]int16, 0, 1<<16)
	for v := math.MinInt16; v <= math.MaxInt16; v++ {
		in = append(in, int16(v))
	}
	out := FloatToPCM16(PCM16ToFloat(in))
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("value %d came back as %d", in[i], out[i])
		}
	}
}

func TestFloatToPCM16Saturates(t *testing.T) {
	got := FloatToPCM16([]float32{1.0, -1.0, 1.5, -2, 0, float32(math.NaN())})
	want := []int16{32767, -32768, 32767, -32768, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: want=%d got=%d", i, want[i], got[i])
		}
	}
}

func TestDecodeAudioBufferMono(t *testing.T) {
	data := PCM16ToBytes([]int16{0, 16384, -32768, 32767})
	buf, err := DecodeAudioBuffer(data, OutputSampleRate, 1)
	if err != nil {
		t.Fatalf("DecodeAudioBuffer: %v", err)
	}
	if buf.NumChannels() != 1 || buf.Frames() != 4 {
		t.Fatalf("unexpected shape: channels=%d frames=%d", buf.NumChannels(), buf.Frames())
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	for i, w := range want {
		if buf.Channels[0][i] != w {
			t.Fatalf("sample %d: want=%v got=%v", i, w, buf.Channels[0][i])
		}
	}
}

func TestDecodeAudioBufferDeinterleavesStereo(t *testing.T) {
	data := PCM16ToBytes([]int16{100, -100, 200, -200, 300, -300})
	buf, err := DecodeAudioBuffer(data, 48000, 2)
	if err != nil {
		t.Fatalf("DecodeAudioBuffer: %v", err)
	}
	if buf.Frames() != 3 {
		t.Fatalf("frames: want=3 got=%d", buf.Frames())
	}
	for i := 0; i < 3; i++ {
		l := FloatToPCM16(buf.Channels[0][i : i+1])[0]
		r := FloatToPCM16(buf.Channels[1][i : i+1])[0]
		if l != int16(100*(i+1)) || r != int16(-100*(i+1)) {
			t.Fatalf("frame %d: got l=%d r=%d", i, l, r)
		}
	}
	mono := buf.Mono()
	if mono[0] != 0 {
		t.Fatalf("mono of symmetric stereo should be silent, got %v", mono[0])
	}
}

func TestDecodeAudioBufferMalformed(t *testing.T) {
	_, err := DecodeAudioBuffer([]byte{1, 2, 3, 4, 5}, OutputSampleRate, 1)
	if !errors.Is(err, ErrMalformedAudio) {
		t.Fatalf("expected ErrMalformedAudio, got %v", err)
	}
	_, err = DecodeAudioBuffer(make([]byte, 6), OutputSampleRate, 2)
	if !errors.Is(err, ErrMalformedAudio) {
		t.Fatalf("expected ErrMalformedAudio for partial stereo frame, got %v", err)
	}
	_, err = DecodeAudioBuffer(make([]byte, 4), OutputSampleRate, 0)
	if !errors.Is(err, ErrMalformedAudio) {
		t.Fatalf("expected ErrMalformedAudio for zero channels, got %v", err)
	}
}

func TestBufferDuration(t *testing.T) {
	buf, err := DecodeAudioBuffer(make([]byte, 2*OutputSampleRate/2), OutputSampleRate, 1)
	if err != nil {
		t.Fatalf("DecodeAudioBuffer: %v", err)
	}
	if d := buf.Duration(); d != 0.5 {
		t.Fatalf("duration: want=0.5 got=%v", d)
	}
	empty, err := DecodeAudioBuffer(nil, OutputSampleRate, 1)
	if err != nil {
		t.Fatalf("empty payload should decode: %v", err)
	}
	if empty.Duration() != 0 {
		t.Fatalf("empty duration: got %v", empty.Duration())
	}
}

func TestBytesToPCM16(t *testing.T) {
	s, err := BytesToPCM16([]byte{0x01, 0x80, 0xff, 0x7f})
	if err != nil {
		t.Fatalf("BytesToPCM16: %v", err)
	}
	if s[0] != -32767 || s[1] != 32767 {
		t.Fatalf("unexpected samples: %v", s)
	}
	if _, err := BytesToPCM16([]byte{1}); !errors.Is(err, ErrMalformedAudio) {
		t.Fatalf("expected ErrMalformedAudio, got %v", err)
	}
}

func TestBuildWAVHeader(t *testing.T) {
	pcm := PCM16ToBytes([]int16{1, 2, 3})
	wav := BuildWAV(pcm, InputSampleRate, 1, 16)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length: want=%d got=%d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != InputSampleRate {
		t.Fatalf("sample rate: got %d", rate)
	}
	if n := binary.LittleEndian.Uint32(wav[40:44]); int(n) != len(pcm) {
		t.Fatalf("data length: got %d", n)
	}
}
