package epdq

import (
	"encoding/xml"
	"net/url"
)

// DirectLinkResponse is the <ncresponse> document ePDQ returns for every
// DirectLink call. All interesting data rides on attributes.
type DirectLinkResponse struct {
	XMLName  xml.Name `xml:"ncresponse"`
	OrderID  string   `xml:"orderID,attr"`
	PayID    string   `xml:"PAYID,attr"`
	PayIDSub string   `xml:"PAYIDSUB,attr"`
	NCStatus string   `xml:"NCSTATUS,attr"`
	NCError  string   `xml:"NCERROR,attr"`
	Status   string   `xml:"STATUS,attr"`
	Accept   string   `xml:"ACCEPTANCE,attr"`
	Amount   string   `xml:"amount,attr"`
	Currency string   `xml:"currency,attr"`
	HTML3DS  string   `xml:"HTML_ANSWER,attr"`
}

// Notification is a parsed inbound ePDQ callback. Raw keeps the full
// parameter set so the signature check stays independently re-runnable.
type Notification struct {
	OrderID string
	PayID   string
	Status  string
	NCError string
	ShaSign string
	Raw     url.Values
}

// ParseNotification decodes the form-encoded callback body. A payload
// without an order reference or status is malformed.
func ParseNotification(body string) (*Notification, error) {
	params, err := url.ParseQuery(body)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		OrderID: firstOf(params, "orderID", "ORDERID"),
		PayID:   firstOf(params, "PAYID", "payid"),
		Status:  firstOf(params, "STATUS", "status"),
		NCError: firstOf(params, "NCERROR", "ncerror"),
		ShaSign: firstOf(params, "SHASIGN", "shasign"),
		Raw:     params,
	}
	if n.PayID == "" || n.Status == "" {
		return nil, ErrMalformedNotification
	}
	return n, nil
}

func firstOf(params url.Values, keys ...string) string {
	for _, k := range keys {
		if v := params.Get(k); v != "" {
			return v
		}
	}
	return ""
}
