package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clientdesk.org/internal/security"
)

// DefaultVerifyURL is Google's reCAPTCHA siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

var ErrMissingSecret = errors.New("captcha: secret is not configured")

// RecaptchaVerifier checks tokens against a reCAPTCHA compatible siteverify endpoint.
type RecaptchaVerifier struct {
	secret   string
	url      string
	minScore float64
	client   *http.Client
}

// Option configures a RecaptchaVerifier.
type Option func(*RecaptchaVerifier)

// WithVerifyURL overrides the siteverify endpoint.
func WithVerifyURL(u string) Option {
	return func(v *RecaptchaVerifier) {
		if u = strings.TrimSpace(u); u != "" {
			v.url = u
		}
	}
}

// WithMinScore rejects v3 responses scoring below score.
func WithMinScore(score float64) Option {
	return func(v *RecaptchaVerifier) { v.minScore = score }
}

// WithHTTPClient sets the client used for siteverify calls.
func WithHTTPClient(c *http.Client) Option {
	return func(v *RecaptchaVerifier) {
		if c != nil {
			v.client = c
		}
	}
}

// NewRecaptchaVerifier returns a verifier using secret.
func NewRecaptchaVerifier(secret string, opts ...Option) (*RecaptchaVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	v := &RecaptchaVerifier{
		secret: secret,
		url:    DefaultVerifyURL,
		client: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	Action     string   `json:"action,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// Verify reports whether token is valid. Transport and decoding failures are returned as
// errors; a rejected token is (false, nil).
func (v *RecaptchaVerifier) Verify(ctx context.Context, token string, _ security.SecurityType) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("captcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha: siteverify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("captcha: siteverify status %d", resp.StatusCode)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return false, fmt.Errorf("captcha: decode response: %w", err)
	}
	if !out.Success {
		return false, nil
	}
	if v.minScore > 0 && out.Score != nil && *out.Score < v.minScore {
		return false, nil
	}
	return true, nil
}
