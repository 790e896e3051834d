package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// TransportError wraps a 5xx or connection-level failure. Business declines
// arrive as *APIError instead and must not be retried blindly.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stripe %s: transport failure (http %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe: %s (%s/%s)", e.Message, e.Code, e.DeclineCode)
}

// Config holds Stripe API credentials and platform account routing.
type Config struct {
	BaseURL         string
	APIKey          string
	PlatformAccount string
	MerchantAccount string
}

// Client is a minimal Stripe API client. Requests are form-encoded with
// bearer auth, per Stripe's wire protocol.
type Client struct {
	httpClient *http.Client
	config     Config
	debug      bool
}

// NewClient creates a new Stripe client with sane defaults.
func NewClient(config Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     config,
		debug:      os.Getenv("ENV") == "development",
	}
}

// CreatePaymentIntent authorises a payment without capturing it. When
// paymentMethod references a stored instrument the intent is confirmed
// off-session (user not present).
func (c *Client) CreatePaymentIntent(ctx context.Context, amount int64, reference, paymentMethod string, offSession bool) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", amount))
	form.Set("currency", "gbp")
	form.Set("capture_method", "manual")
	form.Set("confirm", "true")
	form.Set("description", reference)
	form.Set("payment_method", paymentMethod)
	if offSession {
		form.Set("off_session", "true")
	}
	var intent PaymentIntent
	if err := c.do(ctx, "create_intent", http.MethodPost, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CapturePaymentIntent captures a previously authorised intent.
func (c *Client) CapturePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := fmt.Sprintf("/v1/payment_intents/%s/capture", intentID)
	if err := c.do(ctx, "capture_intent", http.MethodPost, path, url.Values{}, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CancelPaymentIntent cancels an authorised but uncaptured intent.
func (c *Client) CancelPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := fmt.Sprintf("/v1/payment_intents/%s/cancel", intentID)
	if err := c.do(ctx, "cancel_intent", http.MethodPost, path, url.Values{}, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetPaymentIntent fetches the authoritative state of an intent.
func (c *Client) GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := fmt.Sprintf("/v1/payment_intents/%s", intentID)
	if err := c.do(ctx, "get_intent", http.MethodGet, path, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetCharge fetches a charge, needed to reach its balance transaction.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*ChargeObject, error) {
	var ch ChargeObject
	if err := c.do(ctx, "get_charge", http.MethodGet, "/v1/charges/"+chargeID, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetBalanceTransaction fetches the fee breakdown for a settled charge.
func (c *Client) GetBalanceTransaction(ctx context.Context, id string) (*BalanceTransaction, error) {
	var bt BalanceTransaction
	if err := c.do(ctx, "get_balance_txn", http.MethodGet, "/v1/balance_transactions/"+id, nil, &bt); err != nil {
		return nil, err
	}
	return &bt, nil
}

// CreateTransfer moves funds from the platform account to the merchant's
// connected account.
func (c *Client) CreateTransfer(ctx context.Context, amount int64, reference string) (*Transfer, error) {
	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", amount))
	form.Set("currency", "gbp")
	form.Set("destination", c.config.MerchantAccount)
	form.Set("transfer_group", reference)
	var tr Transfer
	if err := c.do(ctx, "create_transfer", http.MethodPost, "/v1/transfers", form, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// ReverseTransfer pulls a prior transfer back to the platform account.
func (c *Client) ReverseTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	var tr Transfer
	path := fmt.Sprintf("/v1/transfers/%s/reversals", transferID)
	if err := c.do(ctx, "reverse_transfer", http.MethodPost, path, url.Values{}, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// CreateRefund refunds part or all of a captured charge.
func (c *Client) CreateRefund(ctx context.Context, chargeID string, amount int64) (*Refund, error) {
	form := url.Values{}
	form.Set("charge", chargeID)
	form.Set("amount", fmt.Sprintf("%d", amount))
	var rf Refund
	if err := c.do(ctx, "create_refund", http.MethodPost, "/v1/refunds", form, &rf); err != nil {
		return nil, err
	}
	return &rf, nil
}

// DetachPaymentMethod removes a stored payment method so it can no longer
// be charged off-session.
func (c *Client) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	path := fmt.Sprintf("/v1/payment_methods/%s/detach", paymentMethodID)
	return c.do(ctx, "detach_payment_method", http.MethodPost, path, url.Values{}, &struct{}{})
}

// do performs the HTTP call. 4xx responses decode into *APIError (business
// outcome); 5xx and connection errors become *TransportError.
func (c *Client) do(ctx context.Context, op, method, path string, form url.Values, result any) error {
	var bodyReader io.Reader
	if form != nil {
		bodyReader = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if c.debug {
		log.Debug().Str("op", op).Int("status_code", resp.StatusCode).
			RawJSON("response", respBody).Msg("[STRIPE] Incoming response")
	}

	switch {
	case resp.StatusCode >= 500:
		return &TransportError{Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("server error")}
	case resp.StatusCode >= 400:
		var apiErr errorResponse
		if err := json.Unmarshal(respBody, &apiErr); err != nil || apiErr.Error == nil {
			return &TransportError{Op: op, StatusCode: resp.StatusCode,
				Err: fmt.Errorf("undecodable error response")}
		}
		return apiErr.Error
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
