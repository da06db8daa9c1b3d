// Package mediatap implements the UDP Audio Tap (C6): it receives RTP from
// the PBX's ExternalMedia channel, strips the RTP header, and forwards the
// μ-law payload either to the STT client or to a batch buffer.
package mediatap

import (
	"context"
	"fmt"
	"net"

	"github.com/pion/rtp"

	"github.com/soluziona-cl/telephony-core-2-sub001/internal/infra"
	"github.com/soluziona-cl/telephony-core-2-sub001/internal/logx"
)

// Sink receives de-RTP'd μ-law payload bytes in arrival order. Implemented
// by the STT Session Client during streaming turns, or by a batch buffer
// during the Continuous Recording path (C12).
type Sink interface {
	WriteAudio(payload []byte)
}

// Tap is one call's UDP listener, the sole owner of its socket per §5's
// shared-resource rules ("single owner, closed exactly once").
type Tap struct {
	linkedID string
	conn     *net.UDPConn
	sink     Sink
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
}

// Listen binds an ephemeral UDP port on host (the engine's configured
// ExternalMedia host) and returns a Tap ready to Start. The bound port is
// what the Media Plane Controller advertises to the PBX's externalMedia op.
func Listen(host string) (*Tap, int, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: 0}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, 0, infra.Transient("mediatap.Listen", fmt.Errorf("bind udp listener on %s: %w", host, err))
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	return &Tap{conn: conn, done: make(chan struct{})}, port, nil
}

// Start reads RTP frames until ctx is cancelled or Close is called, handing
// each frame's payload to sink in arrival order. Runs as its own task per
// §5's concurrency model; it never blocks the call actor.
func (t *Tap) Start(ctx context.Context, linkedID string, sink Sink) {
	t.linkedID = linkedID
	t.sink = sink
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.started = true

	go t.readLoop(ctx)
}

func (t *Tap) readLoop(ctx context.Context) {
	defer close(t.done)
	log := logx.Call(t.linkedID, "")
	buf := make([]byte, 1500)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Warn("mediatap: read error", "error", err)
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.Debug("mediatap: dropping unparseable RTP frame", "error", err)
			continue
		}

		if t.sink != nil {
			t.sink.WriteAudio(pkt.Payload)
		}
	}
}

// Port returns the locally bound UDP port.
func (t *Tap) Port() int {
	return t.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close releases the socket exactly once. Safe to call multiple times.
func (t *Tap) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	err := t.conn.Close()
	if t.started {
		<-t.done
	}
	return err
}
