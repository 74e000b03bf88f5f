package observability

import (
	"net/http"
	"time"

	sse "github.com/r3labs/sse/v2"
)

// EventBus fans out call telemetry (§6 /events). The turn driver publishes
// transcript_partial, transcript_final, graph_result, graph_error and
// tts_first_byte_ms; no llm_first_token_ms event is emitted. One
// process-wide stream carries every session's events; subscribers filter
// client-side on the stream_id field present in each call event's payload
// (the keepalive "ping" event carries an empty object).
type EventBus struct {
	server *sse.Server
}

const telemetryStreamID = "telemetry"

// NewEventBus constructs the SSE server and declares its single stream.
func NewEventBus() *EventBus {
	s := sse.New()
	s.AutoReplay = false
	s.CreateStream(telemetryStreamID)
	return &EventBus{server: s}
}

// Publish emits one named event with a JSON payload to every connected
// subscriber.
func (b *EventBus) Publish(event string, payload []byte) {
	b.server.Publish(telemetryStreamID, &sse.Event{Event: []byte(event), Data: payload})
}

// Handler returns the /events HTTP handler. A "ping" event is published to
// every subscriber once per keepaliveInterval (none when it is zero).
func (b *EventBus) Handler(keepaliveInterval time.Duration) http.HandlerFunc {
	b.server.Headers["Access-Control-Allow-Origin"] = "*"
	if keepaliveInterval > 0 {
		go func() {
			ticker := time.NewTicker(keepaliveInterval)
			defer ticker.Stop()
			for range ticker.C {
				b.Publish("ping", []byte("{}"))
			}
		}()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		q.Set("stream", telemetryStreamID)
		r.URL.RawQuery = q.Encode()
		b.server.ServeHTTP(w, r)
	}
}
