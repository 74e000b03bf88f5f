package interrupt

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TTSCanceller cancels an in-flight TTS synthesis for a session without
// closing the underlying socket.
type TTSCanceller interface {
	CancelSynthesis(streamID string)
}

// ClearSender emits a {event: "clear"} frame on the carrier WS, per §4.C.
type ClearSender interface {
	SendClear(streamID string) error
}

// SessionMarker flips the session's speaking flag off on interruption.
type SessionMarker interface {
	SetSpeaking(streamID string, speaking bool)
}

// Executor runs the action a Decision calls for, deferring gentle/moderate
// decisions by their scheduled delay and always honoring the most recent
// decision — an immediate decision arriving while a gentle one is still
// pending preempts it.
type Executor struct {
	tts     TTSCanceller
	clear   ClearSender
	session SessionMarker
	logger  zerolog.Logger

	pending map[string]context.CancelFunc
}

func NewExecutor(tts TTSCanceller, clear ClearSender, session SessionMarker, logger zerolog.Logger) *Executor {
	return &Executor{
		tts:     tts,
		clear:   clear,
		session: session,
		logger:  logger,
		pending: make(map[string]context.CancelFunc),
	}
}

// Execute runs d for streamID. immediate runs synchronously; gentle/moderate
// are scheduled after their delay and can be preempted by a subsequent
// immediate decision for the same stream id.
func (e *Executor) Execute(streamID string, d Decision) {
	if !d.Interrupt {
		return
	}

	if cancel, ok := e.pending[streamID]; ok {
		cancel()
		delete(e.pending, streamID)
	}

	if d.Level == LevelImmediate {
		e.runImmediate(streamID, d)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.pending[streamID] = cancel

	delay := ExecuteDelay(d.Level)
	go func() {
		select {
		case <-time.After(delay):
			e.runImmediate(streamID, d)
		case <-ctx.Done():
			e.logger.Debug().Str("stream_id", streamID).Str("level", string(d.Level)).Msg("interruption preempted")
		}
	}()
}

func (e *Executor) runImmediate(streamID string, d Decision) {
	e.tts.CancelSynthesis(streamID)
	if err := e.clear.SendClear(streamID); err != nil {
		e.logger.Warn().Err(err).Str("stream_id", streamID).Msg("failed to send clear frame")
	}
	e.session.SetSpeaking(streamID, false)
	e.logger.Info().
		Str("stream_id", streamID).
		Str("level", string(d.Level)).
		Str("reason", d.Reason).
		Msg("interruption executed")
}
