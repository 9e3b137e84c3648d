// Package presence implements the lobby-gating handshake. The transport's
// own participant-connected signal is unreliable for a presenter who has not
// published a track yet, so the presenter repeats an explicit application
// level heartbeat and viewers latch on first receipt.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/protocol"
)

const (
	// SettleDelay avoids racing the initial subscription right after
	// connect.
	SettleDelay = 300 * time.Millisecond
	// Interval covers viewers that join late or missed a broadcast.
	Interval = 5 * time.Second
)

// Publisher sends an encoded heartbeat over the reliable channel.
type Publisher func(data []byte, reliable bool) error

// Broadcaster is the presenter side: one heartbeat after the settle delay,
// then one every interval for as long as the context lives. Send failures
// are logged, never fatal.
type Broadcaster struct {
	clk     clock.Clock
	publish Publisher
	settle  time.Duration
	every   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewBroadcaster(clk clock.Clock, publish Publisher) *Broadcaster {
	return &Broadcaster{
		clk:     clk,
		publish: publish,
		settle:  SettleDelay,
		every:   Interval,
	}
}

// Start begins broadcasting. A second Start without a Stop replaces the
// previous run. The settle timer is armed before Start returns so no clock
// advance can slip past it.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	t := b.clk.Timer(b.settle)
	go b.run(ctx, t)
}

// Stop halts broadcasting; idempotent.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

func (b *Broadcaster) run(ctx context.Context, t *clock.Timer) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// Reset before sending so the next deadline is measured
			// from this broadcast.
			t.Reset(b.every)
			b.send()
		}
	}
}

func (b *Broadcaster) send() {
	data, err := protocol.EncodePresenterReady(b.clk.Now().UnixMilli())
	if err != nil {
		log.Error().Err(err).Str("module", "presence").Msg("encode heartbeat")
		return
	}
	if err := b.publish(data, true); err != nil {
		log.Warn().Err(err).Str("module", "presence").Msg("heartbeat publish failed")
	}
}

// Gate is the viewer side: a monotonic latch. Once a presenter-ready signal
// is seen the gate stays open until Reset, which only a disconnect calls.
type Gate struct {
	mu      sync.Mutex
	ready   bool
	onReady func()
}

func NewGate(onReady func()) *Gate {
	return &Gate{onReady: onReady}
}

// Signal records a presenter-ready receipt. Returns true only on the first
// one; the onReady hook fires exactly once per open.
func (g *Gate) Signal(sig protocol.PresenterReady) bool {
	g.mu.Lock()
	if g.ready {
		g.mu.Unlock()
		return false
	}
	g.ready = true
	fn := g.onReady
	g.mu.Unlock()

	log.Info().Str("module", "presence").Int64("ts", sig.TS).Msg("presenter ready")
	if fn != nil {
		fn()
	}
	return true
}

func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Reset closes the gate again. Only a disconnect may call this; a fresh
// signal is then required before re-entering the active state.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ready = false
}
