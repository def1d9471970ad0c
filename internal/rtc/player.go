package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/chadiek/voiceloop/internal/audio"
	"github.com/chadiek/voiceloop/internal/dialogue"
)

// 100ms of 48kHz mono PCM16
const playChunk = 9600

type pcmWriter interface {
	WritePCM(pcm []byte)
	FlushTail()
	Reset()
	Drained(ctx context.Context) error
}

// Player decodes reply audio and streams it over the outbound track.
type Player struct {
	w pcmWriter

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newPlayer(w pcmWriter) *Player { return &Player{w: w} }

func (p *Player) Play(ctx context.Context, a dialogue.Audio) (<-chan struct{}, error) {
	pcm, err := audio.ToPCM(a.Data, a.MIME, audio.Mono48k.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("rtc: decode reply audio: %w", err)
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	pctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		for off := 0; off < len(pcm); off += playChunk {
			if pctx.Err() != nil {
				return
			}
			p.w.WritePCM(pcm[off:min(off+playChunk, len(pcm))])
		}
		if pctx.Err() != nil {
			return
		}
		p.w.FlushTail()
		_ = p.w.Drained(pctx)
	}()
	return done, nil
}

func (p *Player) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.w.Reset()
}

func (p *Player) Close() { p.Stop() }
