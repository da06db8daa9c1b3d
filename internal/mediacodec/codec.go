// Package mediacodec converts audio between the telephony leg (8 kHz μ-law,
// one RTP payload byte per sample) and the STT leg (24 kHz linear PCM16, the
// format the realtime speech service speaks).
package mediacodec

import (
	"bytes"
	"encoding/binary"

	"github.com/zaf/g711"
)

// Telephony and STT leg sample rates.
const (
	TelephonySampleRate = 8000
	STTSampleRate       = 24000
)

// UlawToPCM16 decodes 8-bit μ-law telephony samples into 16-bit linear PCM,
// little-endian, still at 8 kHz.
func UlawToPCM16(ulaw []byte) []byte {
	return g711.DecodeUlaw(ulaw)
}

// PCM16ToUlaw encodes 16-bit linear PCM (little-endian, 8 kHz) into 8-bit
// μ-law for the telephony leg.
func PCM16ToUlaw(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm)
}

// ResamplePCM16 linearly interpolates a 16-bit little-endian PCM buffer from
// fromRate to toRate. Used to bridge the telephony leg's 8 kHz and the STT
// leg's 24 kHz, in both directions.
func ResamplePCM16(input []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || len(input) < 2 {
		out := make([]byte, len(input))
		copy(out, input)
		return out
	}

	samplesIn := len(input) / 2
	ratio := float64(fromRate) / float64(toRate)
	samplesOut := int(float64(samplesIn) / ratio)
	if samplesOut < 1 {
		return nil
	}

	out := make([]byte, samplesOut*2)
	for i := 0; i < samplesOut; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= samplesIn-1 {
			srcIdx = samplesIn - 2
			if srcIdx < 0 {
				srcIdx = 0
			}
			frac = 1
		}

		s1 := int16(binary.LittleEndian.Uint16(input[srcIdx*2 : srcIdx*2+2]))
		s2 := s1
		if srcIdx+1 < samplesIn {
			s2 = int16(binary.LittleEndian.Uint16(input[(srcIdx+1)*2 : (srcIdx+1)*2+2]))
		}

		interpolated := int16(float64(s1)*(1-frac) + float64(s2)*frac)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(interpolated)) //nolint:gosec // full-range PCM16 round trip
	}
	return out
}

// TelephonyToSTT converts one telephony-leg RTP payload (μ-law @ 8 kHz) into
// the linear PCM16 @ 24 kHz the STT session expects.
func TelephonyToSTT(ulawPayload []byte) []byte {
	pcm8k := UlawToPCM16(ulawPayload)
	return ResamplePCM16(pcm8k, TelephonySampleRate, STTSampleRate)
}

// STTToTelephony converts a linear PCM16 @ 24 kHz buffer (from TTS synthesis
// or an STT audio delta) into μ-law @ 8 kHz suitable for an RTP payload.
func STTToTelephony(pcm24k []byte) []byte {
	pcm8k := ResamplePCM16(pcm24k, STTSampleRate, TelephonySampleRate)
	return PCM16ToUlaw(pcm8k)
}

// wavFormatULaw is the WAVE_FORMAT_MULAW tag (RFC 2361 / ITU-T G.711).
const wavFormatULaw = 7

// WriteULawWAV wraps 8 kHz μ-law samples in a WAV container so Asterisk's
// sound file player can read a synthesized-speech prompt staged to disk, per
// the Domain Port's SAY_TEXT action.
func WriteULawWAV(ulaw []byte) []byte {
	var buf bytes.Buffer
	dataSize := uint32(len(ulaw))
	fmtChunkSize := uint32(18)
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, riffSize) //nolint:errcheck // bytes.Buffer never errors
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, fmtChunkSize)
	binary.Write(&buf, binary.LittleEndian, uint16(wavFormatULaw))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(TelephonySampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(TelephonySampleRate)) // byte rate, 1 byte/sample
	binary.Write(&buf, binary.LittleEndian, uint16(1))                  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(8))                  // bits per sample (container width)
	binary.Write(&buf, binary.LittleEndian, uint16(0))                  // cbSize, no extra fmt data

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(ulaw)

	return buf.Bytes()
}
