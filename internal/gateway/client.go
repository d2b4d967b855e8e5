// Package gateway talks to the external messaging gateway. The client makes
// exactly one outbound call per Send; retries belong to the queue manager.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-notifier/internal/strategy"
)

// Failure reasons surfaced in job records. MissingCredentials is tenant
// misconfiguration and cannot heal through retries; the rest are transient.
const (
	ReasonMissingDestination = "missing_destination"
	ReasonMissingCredentials = "missing_credentials"
	ReasonGatewayRejected    = "gateway_rejected"
	ReasonNetworkError       = "network_error"
)

// Credentials identify a tenant's gateway account.
type Credentials struct {
	AccountID   string `json:"account_id"`
	AccessToken string `json:"access_token"`
	APIVersion  string `json:"api_version,omitempty"`
}

func (c Credentials) configured() bool {
	return c.AccountID != "" && c.AccessToken != ""
}

// Outcome is the transient result of one delivery attempt.
type Outcome struct {
	Delivered    bool
	Reason       string
	Detail       string
	FallbackLink string
}

// Failure builds a non-delivered outcome.
func Failure(reason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

// Error flattens the outcome for job records.
func (o Outcome) Error() string {
	if o.Detail == "" {
		return o.Reason
	}
	return o.Reason + ": " + o.Detail
}

// Client performs outbound calls against the messaging gateway.
type Client struct {
	baseURL      string
	apiVersion   string
	fallbackBase string
	client       *http.Client
}

// NewClient builds a gateway client. fallbackBase is the manual-contact
// deep-link prefix used when automated delivery cannot happen.
func NewClient(baseURL, apiVersion, fallbackBase string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiVersion:   apiVersion,
		fallbackBase: strings.TrimRight(fallbackBase, "/"),
		client:       &http.Client{Timeout: timeout},
	}
}

type textBody struct {
	Body string `json:"body"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateBody struct {
	Name       string           `json:"name"`
	Language   templateLanguage `json:"language"`
	Components []any            `json:"components,omitempty"`
}

type outboundMessage struct {
	To       string        `json:"to"`
	Type     string        `json:"type"`
	Text     *textBody     `json:"text,omitempty"`
	Template *templateBody `json:"template,omitempty"`
}

// Send delivers one message to destination using the resolved strategy.
// text is the composed message body; templates still pass it through so the
// fallback link carries something useful for manual follow-up.
func (c *Client) Send(ctx context.Context, destination, text string, strat strategy.DeliveryStrategy, creds Credentials) Outcome {
	if destination == "" {
		return Failure(ReasonMissingDestination, "")
	}
	if !creds.configured() {
		// No gateway account for this tenant: degrade to a manual-contact
		// link without touching the network.
		out := Failure(ReasonMissingCredentials, "gateway account not configured")
		out.FallbackLink = c.FallbackLink(destination, text)
		return out
	}

	msg := outboundMessage{To: destination}
	if strat.Type == strategy.TypeTemplate {
		msg.Type = strategy.TypeTemplate
		msg.Template = &templateBody{
			Name:       strat.TemplateName,
			Language:   templateLanguage{Code: strat.LanguageCode},
			Components: strat.Components,
		}
	} else {
		msg.Type = strategy.TypeText
		msg.Text = &textBody{Body: text}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return c.failWithLink(ReasonGatewayRejected, fmt.Sprintf("marshal message: %v", err), destination, text)
	}

	apiVersion := creds.APIVersion
	if apiVersion == "" {
		apiVersion = c.apiVersion
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, apiVersion, creds.AccountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return c.failWithLink(ReasonNetworkError, err.Error(), destination, text)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return c.failWithLink(ReasonNetworkError, err.Error(), destination, text)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		detail := fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		return c.failWithLink(ReasonGatewayRejected, detail, destination, text)
	}

	return Outcome{Delivered: true}
}

func (c *Client) failWithLink(reason, detail, destination, text string) Outcome {
	out := Failure(reason, detail)
	out.FallbackLink = c.FallbackLink(destination, text)
	return out
}

// FallbackLink builds a deep-link an operator can open to contact the
// customer manually, with the message text prefilled.
func (c *Client) FallbackLink(destination, text string) string {
	digits := strings.TrimPrefix(destination, "+")
	link := c.fallbackBase + "/" + digits
	if text != "" {
		link += "?text=" + url.QueryEscape(text)
	}
	return link
}
