package epdq

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrMalformedNotification marks an inbound payload that cannot be parsed.
	ErrMalformedNotification = errors.New("epdq: malformed notification payload")
)

// TransportError wraps a transport or 5xx failure so callers can tell it
// apart from a business refusal carried inside a well-formed response.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("epdq %s: transport failure (http %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config holds ePDQ DirectLink credentials.
type Config struct {
	BaseURL      string
	PSPID        string
	UserID       string
	Password     string
	ShaInSecret  string
	ShaOutSecret string
}

// Client is the ePDQ DirectLink client. Every operation is a signed
// form-encoded POST; responses are small XML documents.
type Client struct {
	httpClient *http.Client
	config     Config
	debug      bool
}

// NewClient creates a new ePDQ client.
func NewClient(config Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     config,
		debug:      os.Getenv("ENV") == "development",
	}
}

// Maintenance operation codes.
const (
	OperationCapture = "SAS" // capture full amount and close
	OperationCancel  = "DES" // delete authorisation
	OperationRefund  = "RFD" // refund and close
)

// NewOrder submits an authorisation for the given order reference and
// amount in minor units. When alias is non-empty the order is a
// user-not-present charge against a stored card alias.
func (c *Client) NewOrder(ctx context.Context, orderID string, amount int64, card CardParams, alias string) (*DirectLinkResponse, error) {
	params := c.baseParams()
	params.Set("ORDERID", orderID)
	params.Set("AMOUNT", strconv.FormatInt(amount, 10))
	params.Set("CURRENCY", "GBP")
	params.Set("OPERATION", "RES")
	if alias != "" {
		params.Set("ALIAS", alias)
		params.Set("ECI", "9") // recurring, cardholder not present
	} else {
		params.Set("CARDNO", card.Number)
		params.Set("ED", card.Expiry)
		params.Set("CVC", card.CVC)
		params.Set("CN", card.HolderName)
		params.Set("ECI", "7")
	}
	return c.do(ctx, "neworder", "/orderdirect.asp", params)
}

// Maintenance drives capture, cancel, and refund of an existing payment
// identified by its PAYID. Amount is ignored for cancel.
func (c *Client) Maintenance(ctx context.Context, payID, operation string, amount int64) (*DirectLinkResponse, error) {
	params := c.baseParams()
	params.Set("PAYID", payID)
	params.Set("OPERATION", operation)
	if operation != OperationCancel && amount > 0 {
		params.Set("AMOUNT", strconv.FormatInt(amount, 10))
	}
	return c.do(ctx, "maintenance", "/maintenancedirect.asp", params)
}

// QueryStatus looks up the authoritative payment status for a PAYID.
func (c *Client) QueryStatus(ctx context.Context, payID string) (*DirectLinkResponse, error) {
	params := c.baseParams()
	params.Set("PAYID", payID)
	return c.do(ctx, "query", "/querydirect.asp", params)
}

// DeleteAlias removes a stored card alias so it can no longer be charged.
func (c *Client) DeleteAlias(ctx context.Context, alias string) (*DirectLinkResponse, error) {
	params := c.baseParams()
	params.Set("ALIAS", alias)
	params.Set("ALIASOPERATION", "DEL")
	return c.do(ctx, "deletealias", "/alias.asp", params)
}

// CardParams carries raw card details for an interactive authorisation.
type CardParams struct {
	Number     string
	Expiry     string // MM/YY
	CVC        string
	HolderName string
}

func (c *Client) baseParams() url.Values {
	params := url.Values{}
	params.Set("PSPID", c.config.PSPID)
	params.Set("USERID", c.config.UserID)
	params.Set("PSWD", c.config.Password)
	return params
}

// do signs the parameter set, posts it, and decodes the ncresponse. A
// non-2xx HTTP status or an undecodable body is a TransportError; a
// refusal carried in STATUS/NCERROR is not.
func (c *Client) do(ctx context.Context, op, path string, params url.Values) (*DirectLinkResponse, error) {
	params.Set("SHASIGN", Sign(params, c.config.ShaInSecret))
	body := params.Encode()

	if c.debug {
		log.Debug().Str("op", op).Str("url", c.config.BaseURL+path).Msg("[EPDQ] Outgoing request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

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
			Str("response", string(respBody)).Msg("[EPDQ] Incoming response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("unexpected http status")}
	}

	var parsed DirectLinkResponse
	if err := xml.Unmarshal(respBody, &parsed); err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return &parsed, nil
}
