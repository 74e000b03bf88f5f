package tts

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Pool is the process-wide shared TTS socket (§4.E, §7): at most one
// session is the audio sink at any time. Re-associating the sink
// requires the previous speaker be flushed or cancelled first.
type Pool struct {
	client TTSClient

	mu       sync.Mutex
	sinkID   string
	onSwitch func(previousSinkID string)
}

func NewPool(client TTSClient) *Pool {
	return &Pool{client: client}
}

// SetOnSwitch registers a callback invoked with the previous sink's
// stream id whenever Acquire hands the socket to a different session.
func (p *Pool) SetOnSwitch(fn func(previousSinkID string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSwitch = fn
}

// Acquire makes streamID the active sink. If a different session
// currently holds the sink, its in-flight synthesis is cancelled
// before streamID takes over.
func (p *Pool) Acquire(streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sinkID == streamID {
		return
	}
	previous := p.sinkID
	if previous != "" {
		if err := p.client.Cancel(); err != nil {
			log.Warn().Err(err).Str("previous_sink", previous).Msg("failed to cancel previous tts sink")
		}
		if p.onSwitch != nil {
			p.onSwitch(previous)
		}
	}
	p.sinkID = streamID
}

// Release clears the sink if streamID currently holds it, leaving the
// socket idle until the next Acquire.
func (p *Pool) Release(streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sinkID == streamID {
		p.sinkID = ""
	}
}

// CurrentSink returns the stream id currently owning the shared socket,
// or "" if idle.
func (p *Pool) CurrentSink() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sinkID
}

// IsSink reports whether streamID currently owns the shared socket;
// used to drop stale audio events that arrive after a sink switch.
func (p *Pool) IsSink(streamID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sinkID == streamID
}

func (p *Pool) Client() TTSClient {
	return p.client
}
