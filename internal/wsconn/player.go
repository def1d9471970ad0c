package wsconn

import (
	"context"
	"sync"

	"github.com/chadiek/voiceloop/internal/dialogue"
	"github.com/chadiek/voiceloop/internal/protocol"
)

// Player ships reply audio to the client, which reports when it finished playing.
type Player struct {
	send func(protocol.Envelope) error

	mu     sync.Mutex
	nextID uint64
	cur    uint64
	done   chan struct{}
}

func newPlayer(send func(protocol.Envelope) error) *Player {
	return &Player{send: send}
}

func (p *Player) Play(ctx context.Context, a dialogue.Audio) (<-chan struct{}, error) {
	p.mu.Lock()
	p.finishLocked()
	p.nextID++
	id := p.nextID
	done := make(chan struct{})
	p.cur, p.done = id, done
	p.mu.Unlock()

	if err := p.send(protocol.Play(id, a.MIME, a.Data)); err != nil {
		p.mu.Lock()
		if p.cur == id {
			p.done, p.cur = nil, 0
		}
		p.mu.Unlock()
		return nil, err
	}
	return done, nil
}

// Stop tells the client to cut playback and ends the current playback.
func (p *Player) Stop() {
	p.mu.Lock()
	id := p.cur
	p.finishLocked()
	p.mu.Unlock()
	if id != 0 {
		_ = p.send(protocol.Envelope{Type: protocol.TypePlayStop, PlaybackID: id})
	}
}

func (p *Player) ended(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id == p.cur {
		p.finishLocked()
	}
}

func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *Player) finishLocked() {
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.cur = 0
}
