package audio

import (
	"encoding/binary"
	"math/rand"
	"testing"
)

func int16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToInt16(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out
}

func TestMulawRoundTrip_KnownSamples(t *testing.T) {
	samples := []int16{0, 100, -100, 1000, -1000, 8000, -8000, 32000, -32000, 32767, -32768}
	encoded := Linear16ToMulaw(int16ToBytes(samples))
	if len(encoded) != len(samples) {
		t.Fatalf("expected %d encoded bytes, got %d", len(samples), len(encoded))
	}
	decoded := bytesToInt16(MulawToLinear16(encoded))
	if len(decoded) != len(samples) {
		t.Fatalf("expected %d decoded samples, got %d", len(samples), len(decoded))
	}
}

// TestMulawRoundTrip_QuantizationBound checks property 3 from the spec: decoding
// the μ-law code that encodes any 16-bit sample returns a value within the
// quantization step for that code's segment.
func TestMulawRoundTrip_QuantizationBound(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		s := int16(rng.Intn(65536) - 32768)
		code := linearToMulawByte(s)
		recovered := mulawByteToLinear(code)

		// Re-encoding the recovered sample must hit the same code: that is the
		// quantization-step guarantee a lossy companding curve can make.
		if again := linearToMulawByte(recovered); again != code {
			t.Fatalf("sample %d: code %x recovered %d re-encodes to %x, want %x", s, code, recovered, again, code)
		}
	}
}

func TestMulawToLinear16_EmptyInput(t *testing.T) {
	if out := MulawToLinear16(nil); len(out) != 0 {
		t.Errorf("expected empty output, got %d bytes", len(out))
	}
}

func TestLinear16ToMulaw_OddTrailingByteDropped(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x02}
	out := Linear16ToMulaw(buf)
	if len(out) != 1 {
		t.Errorf("expected 1 encoded byte from 1.5 samples, got %d", len(out))
	}
}

func TestResampleLinear16_DownsampleLength(t *testing.T) {
	samples := make([]int16, 2400)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	out := ResampleLinear16(int16ToBytes(samples), 24000, 8000)
	gotSamples := len(out) / 2
	if gotSamples != 800 {
		t.Errorf("expected 800 samples after 24kHz->8kHz resample, got %d", gotSamples)
	}
}

func TestResampleLinear16_SameRateIsNoop(t *testing.T) {
	buf := int16ToBytes([]int16{1, 2, 3, 4})
	out := ResampleLinear16(buf, 8000, 8000)
	if len(out) != len(buf) {
		t.Errorf("expected unchanged length %d, got %d", len(buf), len(out))
	}
}

func TestCalculateRMS(t *testing.T) {
	buf := int16ToBytes([]int16{1000, -1000, 2000, -2000})
	rms := CalculateRMS(buf)
	if rms <= 0 {
		t.Errorf("expected positive RMS, got %f", rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("expected 0 RMS for empty input, got %f", rms)
	}
}
