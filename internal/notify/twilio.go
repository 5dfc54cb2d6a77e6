package notify

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	CountryCode string
	BaseURL     string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// TwilioDispatcher sends SMS through the Twilio Messages API. A dispatcher
// built without full credentials is disabled: it answers OutcomeDisabled
// instead of erroring, so the service runs fine without a provider account.
type TwilioDispatcher struct {
	accountSID  string
	authToken   string
	fromNumber  string
	countryCode string
	baseURL     string
	client      *http.Client
	enabled     bool
}

func NewTwilioDispatcher(cfg TwilioConfig) *TwilioDispatcher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioAPIBase
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	countryCode := cfg.CountryCode
	if countryCode == "" {
		countryCode = "+91"
	}
	d := &TwilioDispatcher{
		accountSID:  cfg.AccountSID,
		authToken:   cfg.AuthToken,
		fromNumber:  cfg.FromNumber,
		countryCode: countryCode,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		client:      client,
		enabled:     cfg.AccountSID != "" && cfg.AuthToken != "" && cfg.FromNumber != "",
	}
	if d.enabled {
		log.Printf("[notify] SMS dispatcher initialized")
	} else {
		log.Printf("[notify] SMS dispatcher disabled: missing provider credentials")
	}
	return d
}

func (d *TwilioDispatcher) Enabled() bool { return d.enabled }

func (d *TwilioDispatcher) SendApproval(ctx context.Context, phone string, rc Context) Outcome {
	return d.send(ctx, phone, approvalBody(rc))
}

func (d *TwilioDispatcher) SendRejection(ctx context.Context, phone string, rc Context) Outcome {
	return d.send(ctx, phone, rejectionBody(rc))
}

func (d *TwilioDispatcher) SendTest(ctx context.Context, phone string) Outcome {
	return d.send(ctx, phone, testBody(time.Now()))
}

// send maps every provider-level failure to OutcomeFailed. Notification is
// best-effort; the caller's status transition already happened.
func (d *TwilioDispatcher) send(ctx context.Context, phone, body string) Outcome {
	if !d.enabled {
		return OutcomeDisabled
	}
	to := NormalizePhone(phone, d.countryCode)
	if to == "" {
		return OutcomeNoContact
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", d.fromNumber)
	form.Set("Body", body)

	endpoint := d.baseURL + "/Accounts/" + d.accountSID + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("[notify] build sms request: %v", err)
		return OutcomeFailed
	}
	req.SetBasicAuth(d.accountSID, d.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("[notify] sms send to %s: %v", to, err)
		return OutcomeFailed
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[notify] sms send to %s: provider returned %s", to, resp.Status)
		return OutcomeFailed
	}
	log.Printf("[notify] sms sent to %s", to)
	return OutcomeSent
}
