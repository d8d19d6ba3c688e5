// Package sms abstracts OTP delivery behind a pluggable provider
// selected by configuration. Providers must not block beyond their own
// timeout; a failed send never rolls back the persisted challenge.
package sms

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const sendTimeout = 10 * time.Second

// Provider delivers a one-time code to a phone number.
type Provider interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// FromConfig returns the provider selected by name, falling back to the
// console provider when the name is unknown or credentials are missing.
func FromConfig(name string) Provider {
	switch strings.ToLower(name) {
	case "kavenegar":
		p, err := NewKavenegarProvider()
		if err == nil {
			return p
		}
		log.Printf("SMS provider kavenegar unavailable (%v), falling back to console", err)
	case "twilio":
		p, err := NewTwilioProvider()
		if err == nil {
			return p
		}
		log.Printf("SMS provider twilio unavailable (%v), falling back to console", err)
	case "console", "":
	default:
		log.Printf("Unknown SMS provider %q, falling back to console", name)
	}
	return &ConsoleProvider{}
}

// ConsoleProvider logs codes instead of sending them. Development only.
type ConsoleProvider struct{}

// SendOTP logs the code to stdout.
func (p *ConsoleProvider) SendOTP(_ context.Context, phone, code string) error {
	log.Printf("[SMS:CONSOLE] OTP %s sent to %s", code, phone)
	return nil
}

// KavenegarProvider sends codes through the Kavenegar verify API.
type KavenegarProvider struct {
	apiKey   string
	template string
	client   *http.Client
}

// NewKavenegarProvider reads credentials from the environment.
func NewKavenegarProvider() (*KavenegarProvider, error) {
	apiKey := os.Getenv("KAVENEGAR_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("KAVENEGAR_API_KEY not configured")
	}
	template := os.Getenv("KAVENEGAR_OTP_TEMPLATE")
	if template == "" {
		template = "otp"
	}
	return &KavenegarProvider{
		apiKey:   apiKey,
		template: template,
		client:   &http.Client{Timeout: sendTimeout},
	}, nil
}

// SendOTP calls the verify/lookup endpoint.
func (p *KavenegarProvider) SendOTP(ctx context.Context, phone, code string) error {
	endpoint := fmt.Sprintf("https://api.kavenegar.com/v1/%s/verify/lookup.json", p.apiKey)
	params := url.Values{
		"receptor": {phone},
		"token":    {code},
		"template": {p.template},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("kavenegar request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("kavenegar send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("kavenegar send: status %d", resp.StatusCode)
	}
	return nil
}

// TwilioProvider sends codes through the Twilio Messages API.
type TwilioProvider struct {
	accountSID string
	authToken  string
	fromNumber string
	client     *http.Client
}

// NewTwilioProvider reads credentials from the environment.
func NewTwilioProvider() (*TwilioProvider, error) {
	sid := os.Getenv("TWILIO_ACCOUNT_SID")
	token := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_PHONE_NUMBER")
	if sid == "" || token == "" || from == "" {
		return nil, fmt.Errorf("twilio credentials not configured")
	}
	return &TwilioProvider{
		accountSID: sid,
		authToken:  token,
		fromNumber: from,
		client:     &http.Client{Timeout: sendTimeout},
	}, nil
}

// SendOTP posts a message create request.
func (p *TwilioProvider) SendOTP(ctx context.Context, phone, code string) error {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", p.accountSID)
	form := url.Values{
		"To":   {phone},
		"From": {p.fromNumber},
		"Body": {fmt.Sprintf("Your B2B Marketplace OTP code is: %s. Valid for 5 minutes.", code)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("twilio send: status %d", resp.StatusCode)
	}
	return nil
}
