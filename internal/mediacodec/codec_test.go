package mediacodec

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestUlawToPCM16AndBack_RoundTripsWithinULawPrecision(t *testing.T) {
	ulaw := []byte{0xFF, 0x7F, 0x00, 0x80, 0x55, 0xAA}
	pcm := UlawToPCM16(ulaw)
	if len(pcm) != len(ulaw)*2 {
		t.Fatalf("len(pcm) = %d, want %d", len(pcm), len(ulaw)*2)
	}
	back := PCM16ToUlaw(pcm)
	if len(back) != len(ulaw) {
		t.Fatalf("len(back) = %d, want %d", len(back), len(ulaw))
	}
}

func TestResamplePCM16_NoopWhenRatesMatch(t *testing.T) {
	input := []byte{1, 2, 3, 4}
	out := ResamplePCM16(input, 8000, 8000)
	if !bytes.Equal(out, input) {
		t.Errorf("ResamplePCM16 with equal rates = %v, want %v", out, input)
	}
}

func TestResamplePCM16_UpsamplesToMoreSamples(t *testing.T) {
	samplesIn := 100
	input := make([]byte, samplesIn*2)
	for i := 0; i < samplesIn; i++ {
		binary.LittleEndian.PutUint16(input[i*2:i*2+2], uint16(int16(i*10)))
	}
	out := ResamplePCM16(input, 8000, 24000)
	gotSamples := len(out) / 2
	wantSamples := int(float64(samplesIn) / (8000.0 / 24000.0))
	if gotSamples != wantSamples {
		t.Errorf("upsampled sample count = %d, want %d", gotSamples, wantSamples)
	}
}

func TestResamplePCM16_DownsamplesToFewerSamples(t *testing.T) {
	samplesIn := 300
	input := make([]byte, samplesIn*2)
	for i := 0; i < samplesIn; i++ {
		binary.LittleEndian.PutUint16(input[i*2:i*2+2], uint16(int16(i)))
	}
	out := ResamplePCM16(input, 24000, 8000)
	gotSamples := len(out) / 2
	wantSamples := int(float64(samplesIn) / (24000.0 / 8000.0))
	if gotSamples != wantSamples {
		t.Errorf("downsampled sample count = %d, want %d", gotSamples, wantSamples)
	}
}

func TestResamplePCM16_EmptyInputReturnsEmpty(t *testing.T) {
	out := ResamplePCM16(nil, 8000, 24000)
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0", len(out))
	}
}

func TestTelephonyToSTTAndBack_ProducesNonEmptyBuffers(t *testing.T) {
	ulaw := bytes.Repeat([]byte{0x55}, 160)
	pcm24k := TelephonyToSTT(ulaw)
	if len(pcm24k) == 0 {
		t.Fatal("expected a non-empty 24 kHz PCM buffer")
	}
	back := STTToTelephony(pcm24k)
	if len(back) == 0 {
		t.Fatal("expected a non-empty telephony-leg ulaw buffer")
	}
}

func TestWriteULawWAV_EmitsValidRIFFHeader(t *testing.T) {
	ulaw := []byte{0x01, 0x02, 0x03, 0x04}
	wav := WriteULawWAV(ulaw)

	if !bytes.Equal(wav[0:4], []byte("RIFF")) {
		t.Errorf("missing RIFF tag, got %v", wav[0:4])
	}
	if !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Errorf("missing WAVE tag, got %v", wav[8:12])
	}
	if !bytes.Equal(wav[12:16], []byte("fmt ")) {
		t.Errorf("missing fmt chunk, got %v", wav[12:16])
	}

	dataSizeOffset := len(wav) - len(ulaw) - 4
	gotSize := binary.LittleEndian.Uint32(wav[dataSizeOffset : dataSizeOffset+4])
	if gotSize != uint32(len(ulaw)) {
		t.Errorf("data chunk size = %d, want %d", gotSize, len(ulaw))
	}
	if !bytes.Equal(wav[len(wav)-len(ulaw):], ulaw) {
		t.Error("trailing bytes of WAV do not match the source ulaw payload")
	}
}
