package worldpay

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

const serviceVersion = "1.4"

var (
	// ErrMalformedNotification marks an inbound payload that cannot be parsed.
	ErrMalformedNotification = errors.New("worldpay: malformed notification payload")
)

// TransportError wraps transport or 5xx failures, distinct from business
// refusals carried inside a well-formed reply.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("worldpay %s: transport failure (http %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *ErrorReply) Error() string {
	return fmt.Sprintf("worldpay: error %s: %s", e.Code, e.Message)
}

// Config holds Worldpay XML gateway credentials.
type Config struct {
	BaseURL      string
	MerchantCode string
	Username     string
	Password     string
}

// Client speaks Worldpay's XML payment service over basic-auth POST.
type Client struct {
	httpClient *http.Client
	config     Config
	debug      bool
}

// NewClient creates a new Worldpay client.
func NewClient(config Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     config,
		debug:      os.Getenv("ENV") == "development",
	}
}

func amountOf(v int64) Amount {
	return Amount{Value: v, CurrencyCode: "GBP", Exponent: 2}
}

// SubmitOrder authorises a new order. When originalOrderCode is non-empty
// the order is a pay-as-order recurring charge against the referenced
// earlier order instead of raw card details.
func (c *Client) SubmitOrder(ctx context.Context, orderCode, description string, amount int64, card *CardSSL, originalOrderCode string) (*OrderStatus, error) {
	order := Order{
		OrderCode:   orderCode,
		Description: description,
		Amount:      amountOf(amount),
	}
	if originalOrderCode != "" {
		order.PayAsOrder = &PayAsOrder{OriginalOrderCode: originalOrderCode, Amount: amountOf(amount)}
	} else {
		order.PaymentDetails = &PaymentDetails{CardSSL: card}
	}

	reply, err := c.do(ctx, "submit", &PaymentService{Submit: &Submit{Order: order}})
	if err != nil {
		return nil, err
	}
	return orderStatusOf(reply)
}

// Capture asks Worldpay to capture the given amount of an authorised order.
// Worldpay processes maintenance asynchronously: an ok reply means accepted,
// the notification confirms completion.
func (c *Client) Capture(ctx context.Context, orderCode string, amount int64) error {
	mod := OrderModification{OrderCode: orderCode, Capture: &CaptureModify{Amount: amountOf(amount)}}
	return c.doModify(ctx, "capture", mod)
}

// Cancel voids an authorised, uncaptured order.
func (c *Client) Cancel(ctx context.Context, orderCode string) error {
	mod := OrderModification{OrderCode: orderCode, Cancel: &struct{}{}}
	return c.doModify(ctx, "cancel", mod)
}

// Refund refunds the given amount of a captured order.
func (c *Client) Refund(ctx context.Context, orderCode string, amount int64) error {
	mod := OrderModification{OrderCode: orderCode, Refund: &RefundModify{Amount: amountOf(amount)}}
	return c.doModify(ctx, "refund", mod)
}

// Inquire queries the authoritative status of an order.
func (c *Client) Inquire(ctx context.Context, orderCode string) (*OrderStatus, error) {
	reply, err := c.do(ctx, "inquiry", &PaymentService{
		Inquiry: &Inquiry{OrderInquiry: OrderInquiry{OrderCode: orderCode}},
	})
	if err != nil {
		return nil, err
	}
	return orderStatusOf(reply)
}

func (c *Client) doModify(ctx context.Context, op string, mod OrderModification) error {
	reply, err := c.do(ctx, op, &PaymentService{Modify: &Modify{OrderModification: mod}})
	if err != nil {
		return err
	}
	if reply.Error != nil {
		return reply.Error
	}
	if reply.Ok == nil {
		return &TransportError{Op: op, Err: fmt.Errorf("reply carries neither ok nor error")}
	}
	return nil
}

func orderStatusOf(reply *Reply) (*OrderStatus, error) {
	if reply.Error != nil {
		return nil, reply.Error
	}
	if reply.OrderStatus == nil {
		return nil, fmt.Errorf("worldpay: reply missing orderStatus")
	}
	if reply.OrderStatus.Error != nil {
		return nil, reply.OrderStatus.Error
	}
	return reply.OrderStatus, nil
}

// do renders and posts the request envelope, returning the parsed reply.
func (c *Client) do(ctx context.Context, op string, svc *PaymentService) (*Reply, error) {
	svc.Version = serviceVersion
	svc.MerchantCode = c.config.MerchantCode

	payload, err := xml.Marshal(svc)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}
	body := append([]byte(xml.Header), payload...)

	if c.debug {
		log.Debug().Str("op", op).Str("request", string(payload)).Msg("[WORLDPAY] Outgoing request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "text/xml")
	req.SetBasicAuth(c.config.Username, c.config.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if c.debug {
		log.Debug().Str("op", op).Int("status_code", resp.StatusCode).
			Str("response", string(respBody)).Msg("[WORLDPAY] Incoming response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("unexpected http status")}
	}

	var parsed PaymentService
	if err := xml.Unmarshal(respBody, &parsed); err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if parsed.Reply == nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("response missing reply element")}
	}
	return parsed.Reply, nil
}

// Notification is a parsed inbound Worldpay order notification.
type Notification struct {
	OrderCode string
	LastEvent string
	Raw       []byte
}

// ParseNotification decodes the XML notification body. Worldpay posts the
// same paymentService envelope it uses for replies.
func ParseNotification(body []byte) (*Notification, error) {
	var svc PaymentService
	if err := xml.Unmarshal(body, &svc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	var status *OrderStatus
	if svc.Reply != nil {
		status = svc.Reply.OrderStatus
	}
	if status == nil || status.OrderCode == "" || status.Payment == nil {
		return nil, ErrMalformedNotification
	}
	return &Notification{
		OrderCode: status.OrderCode,
		LastEvent: status.Payment.LastEvent,
		Raw:       body,
	}, nil
}
