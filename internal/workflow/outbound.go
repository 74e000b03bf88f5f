package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/lexiqai/callagent/internal/session"
)

// OutboundDialer places the customer-side notification call (§4.J step 9).
type OutboundDialer interface {
	PlaceCall(ctx context.Context, toNumber string) (callID string, err error)
}

// TwilioDialer implements OutboundDialer against the carrier's Programmable
// Voice REST API, pointing the new leg at the same TwiML document every
// inbound call uses.
type TwilioDialer struct {
	client   *twilio.RestClient
	from     string
	twimlURL string
}

func NewTwilioDialer(accountSID, authToken, from, twimlURL string) *TwilioDialer {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioDialer{client: client, from: from, twimlURL: twimlURL}
}

func (d *TwilioDialer) PlaceCall(ctx context.Context, toNumber string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(d.from)
	params.SetUrl(d.twimlURL)

	resp, err := d.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("outbound: failed to place call to %s: %w", toNumber, err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("outbound: call response missing sid")
	}
	return *resp.Sid, nil
}

// NoopDialer is used when no carrier credentials are configured.
type NoopDialer struct{}

func (NoopDialer) PlaceCall(ctx context.Context, toNumber string) (string, error) {
	return "", fmt.Errorf("outbound: no carrier credentials configured")
}

// OutboundScheduler schedules the customer notification call ~20s after the
// teammate call ends (§4.J step 9) and holds the delay data until the new
// leg's media stream starts, when the turn driver claims it for that
// stream via TakeDelayData.
type OutboundScheduler struct {
	dialer OutboundDialer
	delay  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]*session.DelayData
}

func NewOutboundScheduler(dialer OutboundDialer, delay time.Duration, logger zerolog.Logger) *OutboundScheduler {
	return &OutboundScheduler{
		dialer:  dialer,
		delay:   delay,
		logger:  logger,
		pending: make(map[string]*session.DelayData),
	}
}

// ScheduleCustomerCall places the outbound call after the configured delay.
// Placement failures are logged only; per §4.F, side-effect failures never
// abort the teammate call that triggered them.
func (s *OutboundScheduler) ScheduleCustomerCall(d *session.DelayData) {
	time.AfterFunc(s.delay, func() {
		callID, err := s.dialer.PlaceCall(context.Background(), d.CustomerPhone)
		if err != nil {
			s.logger.Error().Err(err).Str("customer_phone", d.CustomerPhone).Msg("outbound: failed to place delay-notification call")
			return
		}
		s.mu.Lock()
		s.pending[callID] = d
		s.mu.Unlock()
	})
}

// TakeDelayData returns and removes the delay data associated with callID,
// if any is pending.
func (s *OutboundScheduler) TakeDelayData(callID string) (*session.DelayData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.pending[callID]
	if ok {
		delete(s.pending, callID)
	}
	return d, ok
}
