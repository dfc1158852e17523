package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
)

const twilioTimeout = 15 * time.Second

// TwilioVerifyDispatcher delegates phone codes to Twilio Verify. The code
// itself never leaves the vendor.
type TwilioVerifyDispatcher struct {
	serviceSID string
	configured bool
	verify     *verify.ApiService
}

// NewTwilioVerifyDispatcher builds a Verify v2 client. A non-empty baseURL
// redirects every API call to that scheme and host, which is how tests and
// egress proxies reach it.
func NewTwilioVerifyDispatcher(accountSID, authToken, serviceSID, baseURL string) *TwilioVerifyDispatcher {
	httpClient := &http.Client{Timeout: twilioTimeout}
	if target, err := url.Parse(baseURL); err == nil && target.Host != "" {
		httpClient.Transport = &hostOverride{target: target, next: http.DefaultTransport}
	}

	base := &twilioclient.Client{
		Credentials: twilioclient.NewCredentials(accountSID, authToken),
		HTTPClient:  httpClient,
	}
	base.SetAccountSid(accountSID)
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{Client: base})

	return &TwilioVerifyDispatcher{
		serviceSID: serviceSID,
		configured: accountSID != "" && authToken != "" && serviceSID != "",
		verify:     rest.VerifyV2,
	}
}

func (d *TwilioVerifyDispatcher) Delegated() bool {
	return d.configured
}

func (d *TwilioVerifyDispatcher) SendCode(ctx context.Context, phone string, via PhoneVia) error {
	if !d.configured {
		return ErrDispatcherNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: twilio: %w", ErrDeliveryFailed, err)
	}

	params := &verify.CreateVerificationParams{}
	params.SetTo(phone)
	params.SetChannel(string(via.orDefault()))
	if _, err := d.verify.CreateVerification(d.serviceSID, params); err != nil {
		return fmt.Errorf("%w: twilio: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// VerifyCode reports whether Twilio approved code. A missing or expired
// verification comes back as 404 and is treated as not approved.
func (d *TwilioVerifyDispatcher) VerifyCode(ctx context.Context, phone string, code string) (bool, error) {
	if !d.configured {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(phone)
	params.SetCode(code)
	check, err := d.verify.CreateVerificationCheck(d.serviceSID, params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) && restErr.Status == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("twilio: verification check: %w", err)
	}
	return check.Status != nil && *check.Status == "approved", nil
}

type hostOverride struct {
	target *url.URL
	next   http.RoundTripper
}

func (t *hostOverride) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.Host = t.target.Host
	return t.next.RoundTrip(out)
}
