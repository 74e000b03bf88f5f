package telephony

import (
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go/twiml"

	"github.com/lexiqai/callagent/internal/config"
)

// TwiMLHandler serves the static TwiML document (§6 POST /twiml) that
// connects every inbound and outbound leg to the media-stream websocket:
// a single <Connect><Stream> pointed at cfg.OutboundWSURL, or at
// cfg.StreamWSPath on the request's host when OutboundWSURL is empty.
func TwiMLHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wsURL := cfg.OutboundWSURL
		if wsURL == "" {
			wsURL = fmt.Sprintf("wss://%s%s", r.Host, cfg.StreamWSPath)
		}

		stream := &twiml.VoiceStream{Url: wsURL}
		connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

		doc, err := twiml.Voice([]twiml.Element{connect})
		if err != nil {
			http.Error(w, "failed to render twiml", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(doc))
	}
}
