package notification

import (
	"context"

	"github.com/RMahshie/sigcal/internal/config"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/multierr"
)

// Texter delivers a short text message to the configured numbers
type Texter interface {
	Send(ctx context.Context, message string) error
}

// TwilioTexter sends SMS through the Twilio REST API
type TwilioTexter struct {
	client  *twilio.RestClient
	from    string
	numbers []string
}

// NewTexter returns a Twilio texter, or nil when SMS alerts are disabled
func NewTexter(cfg config.SMSConfig) Texter {
	if !cfg.Enabled || len(cfg.Numbers) == 0 {
		return nil
	}
	return &TwilioTexter{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		from:    cfg.FromNumber,
		numbers: cfg.Numbers,
	}
}

// Send messages every number and reports all failures together
func (t *TwilioTexter) Send(ctx context.Context, message string) error {
	var errs error
	for _, number := range t.numbers {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(number)
		params.SetFrom(t.from)
		params.SetBody(message)
		if _, err := t.client.Api.CreateMessage(params); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
