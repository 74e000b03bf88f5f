package tts

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/callagent/internal/audio"
	"github.com/lexiqai/callagent/internal/callerr"
	"github.com/lexiqai/callagent/internal/config"
	"github.com/lexiqai/callagent/internal/observability"
)

const (
	ttsKeepaliveInterval = 25 * time.Second
	ttsMaxReconnectTries = 3
	ttsReconnectCap      = 5 * time.Second
)

// Client is a persistent streaming WebSocket connection to a TTS
// provider (§4.E). A single Client is shared process-wide; Pool (see
// pool.go) re-associates it to whichever session is the active sink.
type Client struct {
	cfg *config.Config

	mu           sync.RWMutex
	conn         *websocket.Conn
	state        ConnState
	voiceID      string
	usedFallback bool

	events chan *Event
	stop   chan struct{}
}

// NewClient constructs a TTS client without connecting; call Connect to
// open the socket.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:     cfg,
		voiceID: cfg.TTSVoiceID,
		state:   StateClosed,
		events:  make(chan *Event, 64),
		stop:    make(chan struct{}),
	}
}

func (c *Client) wsURL(voiceID string) string {
	return fmt.Sprintf(
		"wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=pcm_22050",
		voiceID, c.cfg.TTSModelID,
	)
}

// Connect opens the provider socket and starts the receive/keepalive
// loops. If the dial is rejected with HTTP 422, or the provider later
// closes the socket with a reason naming the voice (see receiveLoop), the
// client switches once to the configured fallback voice.
func (c *Client) Connect() error {
	c.mu.Lock()
	c.state = StateConnecting
	voiceID := c.voiceID
	c.mu.Unlock()

	header := http.Header{}
	header.Set("xi-api-key", c.cfg.TTSAPIKey)

	conn, resp, err := websocket.DefaultDialer.Dial(c.wsURL(voiceID), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity && !c.usedFallback {
			c.mu.Lock()
			c.usedFallback = true
			c.voiceID = c.cfg.TTSFallbackVoiceID
			fallback := c.voiceID
			c.mu.Unlock()
			log.Warn().Str("fallback_voice", fallback).Msg("tts voice id rejected, retrying with fallback")
			return c.Connect()
		}
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return callerr.New(callerr.KindTransientIO, "tts.Connect", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	go c.receiveLoop()
	go c.keepaliveLoop()

	log.Info().Str("voice_id", voiceID).Msg("tts streaming client connected")
	return nil
}

func (c *Client) receiveLoop() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.state = StateClosed
			if ce, ok := err.(*websocket.CloseError); ok && !c.usedFallback &&
				strings.Contains(strings.ToLower(ce.Text), "voice") {
				c.usedFallback = true
				c.voiceID = c.cfg.TTSFallbackVoiceID
				log.Warn().Str("fallback_voice", c.voiceID).Str("reason", ce.Text).Msg("tts voice id rejected on close, reconnecting with fallback")
			}
			c.mu.Unlock()
			observability.IncrementCircuitBreakerFailures("tts")

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.stop:
					return
				default:
				}
			}
			go c.reconnectWithBackoff()
			return
		}

		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	// Raw binary audio frame (linear16 @ 22050Hz): resample down to
	// mu-law 8kHz (§4.A) before forwarding.
	if len(message) > 0 && message[0] != '{' {
		c.emit(&Event{Kind: EventAudio, Audio: resample22kTo8k(message)})
		return
	}

	var payload struct {
		Audio   string `json:"audio"`
		Type    string `json:"type"`
		IsFinal bool   `json:"isFinal"`
	}
	if err := json.Unmarshal(message, &payload); err != nil {
		log.Warn().Err(err).Msg("tts: could not parse provider frame")
		return
	}

	if payload.Audio != "" {
		raw, err := base64.StdEncoding.DecodeString(payload.Audio)
		if err != nil {
			log.Warn().Err(err).Msg("tts: bad base64 audio frame")
			return
		}
		c.emit(&Event{Kind: EventAudio, Audio: resample22kTo8k(raw)})
	}

	switch {
	case payload.IsFinal:
		c.emit(&Event{Kind: EventIsFinal})
	case strings.EqualFold(payload.Type, "Flushed"):
		c.emit(&Event{Kind: EventFlushed})
	case strings.EqualFold(payload.Type, "generation_finished"):
		c.emit(&Event{Kind: EventGenerationFinished})
	case strings.EqualFold(payload.Type, "isFinal"):
		c.emit(&Event{Kind: EventIsFinal})
	}
}

func (c *Client) emit(e *Event) {
	select {
	case c.events <- e:
	default:
		log.Warn().Msg("tts events channel full, dropping event")
	}
}

func (c *Client) reconnectWithBackoff() {
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < ttsMaxReconnectTries; attempt++ {
		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}
		if err := c.Connect(); err == nil {
			return
		}
		backoff *= 2
		if backoff > ttsReconnectCap {
			backoff = ttsReconnectCap
		}
	}
	log.Error().Int("attempts", ttsMaxReconnectTries).Msg("tts reconnect exhausted, external trigger required")
}

func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(ttsKeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			open := c.state == StateOpen
			c.mu.RUnlock()
			if !open || conn == nil {
				continue
			}
			if err := conn.WriteJSON(map[string]string{"text": " "}); err != nil {
				log.Warn().Err(err).Msg("tts keepalive failed")
			}
		}
	}
}

// SendText streams one text chunk. The provider is asked for linear16
// PCM at 22050Hz and resampled down to mu-law 8kHz on receipt (§4.A).
func (c *Client) SendText(text string) error {
	c.mu.RLock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.RUnlock()

	if !open || conn == nil {
		return callerr.New(callerr.KindTransientIO, "tts.SendText", fmt.Errorf("no open tts connection"))
	}

	return conn.WriteJSON(map[string]interface{}{
		"text":                    text,
		"try_trigger_generation": true,
	})
}

func (c *Client) Flush() error {
	c.mu.RLock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.RUnlock()

	if !open || conn == nil {
		return callerr.New(callerr.KindTransientIO, "tts.Flush", fmt.Errorf("no open tts connection"))
	}
	return conn.WriteJSON(map[string]interface{}{"text": "", "flush": true})
}

// Cancel abandons in-flight generation without closing the socket,
// implementing the barge-in path of §4.H.
func (c *Client) Cancel() error {
	c.mu.RLock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.RUnlock()

	if !open || conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]interface{}{"text": "", "flush": true})
}

func (c *Client) Events() <-chan *Event {
	return c.events
}

func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) VoiceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voiceID
}

func (c *Client) Close() error {
	close(c.stop)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.state = StateClosed
		return err
	}
	return nil
}

// resample22kTo8k converts the linear16 PCM at 22050Hz that wsURL requests
// (output_format=pcm_22050) to mu-law 8kHz, using the nearest-neighbor
// resampler (§4.A). Every audio frame the provider sends passes through it.
func resample22kTo8k(linear16 []byte) []byte {
	resampled := audio.ResampleLinear16(linear16, 22050, 8000)
	return audio.Linear16ToMulaw(resampled)
}
