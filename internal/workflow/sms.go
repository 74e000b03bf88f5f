package workflow

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSSender delivers the delay-notification SMS to the teammate (§4.J).
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// TwilioSMS implements SMSSender using the carrier's messaging REST API.
type TwilioSMS struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSMS(accountSID, authToken, from string) *TwilioSMS {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSMS{client: client, from: from}
}

func (t *TwilioSMS) Send(ctx context.Context, to, body string) error {
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)

	if _, err := t.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("sms: failed to send to %s: %w", to, err)
	}
	return nil
}

// NoopSMS is used when no carrier credentials are configured; it reports
// every send as a failure rather than panicking on a nil client, letting
// the customer flow's existing failure-logging path handle it (§4.F).
type NoopSMS struct{}

func (NoopSMS) Send(ctx context.Context, to, body string) error {
	return fmt.Errorf("sms: no carrier credentials configured")
}
