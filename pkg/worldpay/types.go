package worldpay

import "encoding/xml"

// PaymentService is the root element of every Worldpay request and reply.
type PaymentService struct {
	XMLName      xml.Name `xml:"paymentService"`
	Version      string   `xml:"version,attr"`
	MerchantCode string   `xml:"merchantCode,attr"`
	Submit       *Submit  `xml:"submit,omitempty"`
	Modify       *Modify  `xml:"modify,omitempty"`
	Inquiry      *Inquiry `xml:"inquiry,omitempty"`
	Reply        *Reply   `xml:"reply,omitempty"`
}

// Submit wraps a new order (authorisation) request.
type Submit struct {
	Order Order `xml:"order"`
}

// Order is a new authorisation.
type Order struct {
	OrderCode      string          `xml:"orderCode,attr"`
	Description    string          `xml:"description"`
	Amount         Amount          `xml:"amount"`
	PaymentDetails *PaymentDetails `xml:"paymentDetails,omitempty"`
	PayAsOrder     *PayAsOrder     `xml:"payAsOrder,omitempty"`
}

// Amount is a money value in minor units (exponent fixed at 2).
type Amount struct {
	Value        int64  `xml:"value,attr"`
	CurrencyCode string `xml:"currencyCode,attr"`
	Exponent     int    `xml:"exponent,attr"`
}

// PaymentDetails carries card data for an interactive authorisation.
type PaymentDetails struct {
	CardSSL *CardSSL `xml:"CARD-SSL,omitempty"`
}

// CardSSL is a raw card entry.
type CardSSL struct {
	CardNumber     string     `xml:"cardNumber"`
	ExpiryDate     ExpiryDate `xml:"expiryDate>date"`
	CardHolderName string     `xml:"cardHolderName"`
	CVC            string     `xml:"cvc"`
}

// ExpiryDate is the card expiry month/year.
type ExpiryDate struct {
	Month string `xml:"month,attr"`
	Year  string `xml:"year,attr"`
}

// PayAsOrder authorises against a previously stored order (recurring,
// cardholder not present).
type PayAsOrder struct {
	OriginalOrderCode string `xml:"orderCode,attr"`
	Amount            Amount `xml:"amount"`
}

// Modify wraps capture, cancel, and refund of an existing order.
type Modify struct {
	OrderModification OrderModification `xml:"orderModification"`
}

// OrderModification selects exactly one maintenance operation.
type OrderModification struct {
	OrderCode string         `xml:"orderCode,attr"`
	Capture   *CaptureModify `xml:"capture,omitempty"`
	Cancel    *struct{}      `xml:"cancel,omitempty"`
	Refund    *RefundModify  `xml:"refund,omitempty"`
}

// CaptureModify captures the given amount.
type CaptureModify struct {
	Amount Amount `xml:"amount"`
}

// RefundModify refunds the given amount.
type RefundModify struct {
	Amount Amount `xml:"amount"`
}

// Inquiry wraps a server-initiated status query.
type Inquiry struct {
	OrderInquiry OrderInquiry `xml:"orderInquiry"`
}

// OrderInquiry queries one order by code.
type OrderInquiry struct {
	OrderCode string `xml:"orderCode,attr"`
}

// Reply is the response side of the envelope.
type Reply struct {
	OrderStatus *OrderStatus `xml:"orderStatus,omitempty"`
	Ok          *OkReply     `xml:"ok,omitempty"`
	Error       *ErrorReply  `xml:"error,omitempty"`
}

// OrderStatus reports the state of one order.
type OrderStatus struct {
	OrderCode string      `xml:"orderCode,attr"`
	Payment   *Payment    `xml:"payment,omitempty"`
	Error     *ErrorReply `xml:"error,omitempty"`
}

// Payment carries the order's last event and amount.
type Payment struct {
	PaymentMethod string  `xml:"paymentMethod"`
	Amount        *Amount `xml:"amount,omitempty"`
	LastEvent     string  `xml:"lastEvent"`
}

// OkReply acknowledges a maintenance request that was accepted for
// asynchronous processing.
type OkReply struct {
	CaptureReceived *ReceivedRef `xml:"captureReceived,omitempty"`
	CancelReceived  *ReceivedRef `xml:"cancelReceived,omitempty"`
	RefundReceived  *ReceivedRef `xml:"refundReceived,omitempty"`
}

// ReceivedRef names the order a maintenance acknowledgement refers to.
type ReceivedRef struct {
	OrderCode string `xml:"orderCode,attr"`
}

// ErrorReply is a business-level refusal inside a well-formed reply.
type ErrorReply struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}
