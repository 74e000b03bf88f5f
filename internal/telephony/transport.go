// Package telephony implements the carrier-facing WebSocket transport
// (§4.C): it speaks the carrier's bidirectional media-stream protocol
// and hands decoded inbound audio, session lifecycle events, and
// outbound audio writers to whatever drives the call (the turn
// driver, component I). It owns no STT/TTS/LLM state itself.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/callagent/internal/audio"
	"github.com/lexiqai/callagent/internal/config"
	"github.com/lexiqai/callagent/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// controlFrame is the carrier's JSON control message shape (§4.C):
// event in {connected, start, media, mark, close}.
type controlFrame struct {
	Event     string          `json:"event"`
	StreamSid string          `json:"streamSid,omitempty"`
	Start     *startPayload   `json:"start,omitempty"`
	Media     *mediaPayload   `json:"media,omitempty"`
	Mark      json.RawMessage `json:"mark,omitempty"`
}

type startPayload struct {
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Track   string `json:"track"`
	Payload string `json:"payload"`
}

// Handler receives callbacks as the transport parses carrier control
// frames. Implementations (the turn driver) must not block for long —
// frame parsing happens on the single reader goroutine per connection.
type Handler interface {
	// OnStart fires once per connection, after the carrier's `start`
	// frame; conn is retained by the handler to write outbound audio.
	OnStart(conn *Conn, streamID, callID string, customParams map[string]string)
	// OnMedia fires for each inbound media frame with track=="inbound";
	// audioData is the decoded raw mu-law payload.
	OnMedia(streamID string, audioData []byte)
	// OnClose fires once the carrier sends `close` or the socket drops.
	OnClose(streamID string)
}

// Conn wraps one carrier WebSocket connection and exposes the outbound
// frame writers (§4.C) plus first-media bookkeeping for greeting
// scheduling.
type Conn struct {
	ws *websocket.Conn

	// outBuffer is the ring buffer each outbound audio chunk passes
	// through on its way to the carrier; SendClear empties it.
	outBuffer *audio.RingBuffer

	mu           sync.Mutex
	streamSid    string
	firstMedia   bool
	onFirstMedia func()
}

func newConn(ws *websocket.Conn, bufferSize int) *Conn {
	return &Conn{ws: ws, outBuffer: audio.NewRingBuffer(bufferSize)}
}

// SendMedia writes one outbound `media` frame: base64 mu-law 8kHz
// audio to be played back on the call. The chunk is written into the
// connection's ring buffer and drained straight back out, so each call
// sends one frame holding that chunk; no pacing is applied, and bytes
// beyond the buffer's free space are dropped with a warning.
func (c *Conn) SendMedia(audioData []byte) error {
	c.mu.Lock()
	streamSid := c.streamSid
	c.mu.Unlock()

	written := c.outBuffer.Write(audioData)
	if written < len(audioData) {
		log.Warn().Int("dropped", len(audioData)-written).Msg("telephony: outbound audio buffer overflow")
	}
	drained := make([]byte, written)
	n := c.outBuffer.Read(drained)

	msg := map[string]interface{}{
		"event":     "media",
		"streamSid": streamSid,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(drained[:n]),
		},
	}
	return c.safeSend(msg)
}

// SendClear writes a `clear` frame, the carrier-side barge-in signal
// that discards any buffered outbound audio (§4.H immediate action),
// and drops this connection's own ring-buffered backlog to match.
func (c *Conn) SendClear() error {
	c.mu.Lock()
	streamSid := c.streamSid
	c.mu.Unlock()

	c.outBuffer.Clear()

	return c.safeSend(map[string]interface{}{
		"event":     "clear",
		"streamSid": streamSid,
	})
}

// safeSend serializes writes to the underlying socket; gorilla's
// websocket.Conn forbids concurrent writers, so every outbound frame
// funnels through this single mutex-guarded path.
func (c *Conn) safeSend(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *Conn) setStreamSid(sid string) {
	c.mu.Lock()
	c.streamSid = sid
	c.mu.Unlock()
}

// noteFirstMedia runs onFirstMedia exactly once, for greeting scheduling.
func (c *Conn) noteFirstMedia() {
	c.mu.Lock()
	already := c.firstMedia
	c.firstMedia = true
	cb := c.onFirstMedia
	c.mu.Unlock()

	if !already && cb != nil {
		cb()
	}
}

func (c *Conn) SetOnFirstMedia(fn func()) {
	c.mu.Lock()
	c.onFirstMedia = fn
	c.mu.Unlock()
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// NewServeHTTP returns the HTTP handler that upgrades and services one
// carrier media-stream connection, registering it in the session
// registry and dispatching frames to handler.
func NewServeHTTP(cfg *config.Config, registry *session.Registry, handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("telephony: failed to upgrade websocket")
			http.Error(w, "failed to upgrade to websocket", http.StatusBadRequest)
			return
		}
		defer ws.Close()

		conn := newConn(ws, cfg.AudioBufferSize)
		serveConn(conn, registry, handler)
	}
}

func serveConn(conn *Conn, registry *session.Registry, handler Handler) {
	var streamID string

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if streamID != "" {
				registry.Cleanup(streamID, session.ReasonConnectionClosed)
				handler.OnClose(streamID)
			}
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Warn().Err(err).Msg("telephony: could not parse control frame")
			continue
		}

		switch frame.Event {
		case "connected":
			log.Info().Msg("telephony: carrier stream connected")

		case "start":
			streamID = frame.StreamSid
			if frame.Start != nil && frame.Start.StreamSid != "" {
				streamID = frame.Start.StreamSid
			}
			conn.setStreamSid(streamID)

			sess := registry.GetOrCreate(streamID)
			var callID string
			var params map[string]string
			if frame.Start != nil {
				callID = frame.Start.CallSid
				params = frame.Start.CustomParameters
				if callID != "" {
					registry.AssociateCallID(streamID, callID)
					sess.SetCallID(callID)
				}
			}

			log.Info().Str("stream_id", streamID).Str("call_id", callID).Msg("telephony: call started")
			handler.OnStart(conn, streamID, callID, params)

		case "media":
			if frame.Media == nil || frame.Media.Track != "inbound" {
				continue
			}
			audioData, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil {
				log.Warn().Err(err).Msg("telephony: bad base64 media payload")
				continue
			}
			conn.noteFirstMedia()
			if sess, ok := registry.Get(streamID); ok {
				sess.Touch()
			}
			handler.OnMedia(streamID, audioData)

		case "mark":
			log.Debug().Str("stream_id", streamID).Msg("telephony: mark event")

		case "close", "stop":
			registry.Cleanup(streamID, session.ReasonConnectionClosed)
			handler.OnClose(streamID)
			return

		default:
			log.Warn().Str("event", frame.Event).Msg("telephony: unknown carrier event")
		}
	}
}
