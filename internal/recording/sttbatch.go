package recording

import (
	"context"
	"fmt"
	"time"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/stt"
)

// sessionFactory builds a fresh *stt.Session per segment, since a Session
// owns exactly one WebSocket (§4.4's ownership rule) and a batch worker
// transcribes many segments concurrently.
type sessionFactory func() *stt.Session

// sttBatchTranscriber implements BatchTranscriber by driving a short-lived
// *stt.Session through stream-commit-wait for one segment, reusing the
// realtime STT session machinery instead of a separate batch wire protocol.
type sttBatchTranscriber struct {
	newSession sessionFactory
	waitFor    time.Duration
}

// NewSTTBatchTranscriber adapts the realtime STT session client into a
// BatchTranscriber for the Segmenter's worker pool.
func NewSTTBatchTranscriber(newSession func() *stt.Session, waitFor time.Duration) BatchTranscriber {
	return &sttBatchTranscriber{newSession: newSession, waitFor: waitFor}
}

func (t *sttBatchTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	sess := t.newSession()
	if err := sess.Connect(ctx); err != nil {
		return "", fmt.Errorf("batch transcribe: connect: %w", err)
	}
	defer sess.Disconnect() //nolint:errcheck // best-effort cleanup of a short-lived session

	if err := sess.StreamAudio(pcm); err != nil {
		return "", fmt.Errorf("batch transcribe: stream audio: %w", err)
	}
	if err := sess.Commit(); err != nil {
		return "", fmt.Errorf("batch transcribe: commit: %w", err)
	}
	text, err := sess.WaitForTranscript(ctx, t.waitFor)
	if err != nil {
		return "", fmt.Errorf("batch transcribe: wait: %w", err)
	}
	return text, nil
}
