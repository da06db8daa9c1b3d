package recording

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"
)

func silencePCM(n int) []byte {
	return make([]byte, n*pcmBytesPerSample)
}

func tonePCM(n int, amplitude int16) []byte {
	buf := make([]byte, n*pcmBytesPerSample)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*pcmBytesPerSample:], uint16(amplitude))
	}
	return buf
}

func TestSegmenter_EmitsSegmentAfterSpeechThenSilence(t *testing.T) {
	params := DefaultVADParams()
	params.StartSecs = 0
	params.StopSecs = 0
	seg := NewSegmenter(params)

	t0 := int64(0)
	loud := tonePCM(160, 32767)
	quiet := silencePCM(160)

	seg.Write(loud, t0)     // Quiet -> Starting
	seg.Write(loud, t0+20)  // Starting -> Speaking, opens the segment
	seg.Write(quiet, t0+40) // smoothed energy still above threshold: stays Speaking
	seg.Write(quiet, t0+60) // Speaking -> Stopping
	seg.Write(quiet, t0+80) // Stopping -> Quiet, closes the segment

	select {
	case s := <-seg.Segments():
		if len(s.PCM) == 0 {
			t.Error("expected non-empty segment PCM")
		}
		wantStart := t0 + 20 // the segment opens once the VAD confirms Speaking, one write after the first loud frame
		if s.StartOffsetMs != wantStart {
			t.Errorf("StartOffsetMs = %d, want %d", s.StartOffsetMs, wantStart)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for segment")
	}
}

func TestSegmenter_NoSegmentOnContinuousSilence(t *testing.T) {
	params := DefaultVADParams()
	seg := NewSegmenter(params)
	quiet := silencePCM(160)

	for i := 0; i < 5; i++ {
		seg.Write(quiet, int64(i*20))
	}
	seg.Close(100)

	count := 0
	for range seg.Segments() {
		count++
	}
	if count != 0 {
		t.Errorf("expected no segments on silence, got %d", count)
	}
}

func TestSegmenter_CloseFlushesOpenSegment(t *testing.T) {
	params := DefaultVADParams()
	params.StartSecs = 0
	seg := NewSegmenter(params)
	loud := tonePCM(160, 32767)

	seg.Write(loud, 0)
	seg.Write(loud, 20)
	seg.Close(40)

	count := 0
	for range seg.Segments() {
		count++
	}
	if count != 1 {
		t.Errorf("expected one flushed segment on close, got %d", count)
	}
}

type fakeTranscriber struct {
	result string
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	return f.result, f.err
}

func TestWorker_TranscribesEverySegmentUntilChannelCloses(t *testing.T) {
	segments := make(chan Segment, 3)
	segments <- Segment{PCM: []byte{1, 2}}
	segments <- Segment{PCM: []byte{3, 4}}
	segments <- Segment{PCM: []byte{5, 6}}
	close(segments)

	worker := NewWorker(&fakeTranscriber{result: "hola"}, 2)

	var mu sync.Mutex
	results := make([]TranscribedSegment, 0, 3)

	worker.Run(context.Background(), segments, func(ts TranscribedSegment) {
		mu.Lock()
		results = append(results, ts)
		mu.Unlock()
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 transcribed segments, got %d", len(results))
	}
	for _, r := range results {
		if r.Text != "hola" {
			t.Errorf("Text = %q, want hola", r.Text)
		}
	}
}
