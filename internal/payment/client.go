package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// LinkRequest asks the payment service for a checkout link. Amount is in
// minor units.
type LinkRequest struct {
	Amount      int64  `json:"amount"`
	UserIDFrom  string `json:"userIdFrom"`
	UserIDTo    string `json:"userIdTo"`
	OrderNumber string `json:"orderNumber"`
	Date        string `json:"date"`
}

type linkResponse struct {
	Success    json.RawMessage `json:"Success"`
	Message    string          `json:"Message"`
	PaymentURL string          `json:"PaymentURL"`
}

// RejectedError is returned when the payment service answered but refused
// to issue a link.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "payment link rejected: " + e.Message
}

type Client struct {
	URL  string
	HTTP *http.Client
}

func NewClient(url string) *Client {
	return &Client{URL: url, HTTP: &http.Client{Timeout: 15 * time.Second}}
}

// NewOAuthClient authenticates every request with an OAuth2 client
// credentials token.
func NewOAuthClient(ctx context.Context, url, clientID, clientSecret, tokenURL string) *Client {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	httpClient := cc.Client(ctx)
	httpClient.Timeout = 15 * time.Second
	return &Client{URL: url, HTTP: httpClient}
}

// NewLinkRequest converts an order price in major units into a request.
func NewLinkRequest(price, from, to, orderID string, now time.Time) (LinkRequest, error) {
	major, err := strconv.ParseInt(strings.TrimSpace(price), 10, 64)
	if err != nil {
		return LinkRequest{}, fmt.Errorf("invalid order price %q: %w", price, err)
	}
	return LinkRequest{
		Amount:      major * 1000,
		UserIDFrom:  from,
		UserIDTo:    to,
		OrderNumber: orderID,
		Date:        now.Format("2006-01-02"),
	}, nil
}

// CreateLink returns the checkout URL for req.
func (c *Client) CreateLink(ctx context.Context, req LinkRequest) (string, error) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("payment link request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("payment link request: %s", resp.Status)
	}

	var out linkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("payment link response: %w", err)
	}
	if !succeeded(out.Success) || out.PaymentURL == "" {
		return "", &RejectedError{Message: out.Message}
	}
	return out.PaymentURL, nil
}

// succeeded accepts both a JSON boolean and the string "true".
func succeeded(raw json.RawMessage) bool {
	v := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	return strings.EqualFold(v, "true")
}
