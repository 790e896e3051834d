package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cardforge/connector/internal/metrics"
	"github.com/cardforge/connector/internal/models"
)

// AuthoriseOutcome is the canonical result of an authorisation attempt. A
// business decline is a normal outcome, never an error return.
type AuthoriseOutcome string

const (
	AuthoriseAuthorised  AuthoriseOutcome = "AUTHORISED"
	AuthoriseRejected    AuthoriseOutcome = "REJECTED"
	AuthoriseRequires3DS AuthoriseOutcome = "REQUIRES_3DS"
	AuthoriseError       AuthoriseOutcome = "ERROR"
)

// OperationState is the canonical result of capture/cancel/refund calls.
type OperationState string

const (
	StatePending  OperationState = "PENDING"
	StateComplete OperationState = "COMPLETE"
	StateError    OperationState = "ERROR"
)

// CardDetails carries raw card input for interactive authorisations. It is
// never persisted.
type CardDetails struct {
	Number     string
	Expiry     string // MM/YY
	CVC        string
	HolderName string
}

// AuthoriseRequest asks a gateway to authorise a charge. Card is only set
// for interactive (WEB / MOTO_API) charges; agreement charges carry the
// stored instrument reference on the charge itself.
type AuthoriseRequest struct {
	Charge *models.Charge
	Card   CardDetails
}

// AuthoriseResult is the canonical authorisation response. CanRetry is
// meaningful only for user-not-present authorisation failures: nil means the
// gateway did not say.
type AuthoriseResult struct {
	Outcome       AuthoriseOutcome
	TransactionID string
	CanRetry      *bool

	// ChallengeHTML carries the 3-D Secure challenge page when Outcome is
	// AuthoriseRequires3DS.
	ChallengeHTML string
	RawResponse   json.RawMessage
}

// CaptureResult is the canonical capture response. TransferPending reports
// that the gateway-side capture happened but the compensating transfer to
// the merchant account did not; a reconciliation task must retry the
// transfer. The capture itself must not be retried in that case.
type CaptureResult struct {
	State           OperationState
	Fees            []models.Fee
	TransferPending bool
}

// CancelResult is the canonical cancel response.
type CancelResult struct {
	State OperationState
}

// RefundResult is the canonical refund response.
type RefundResult struct {
	State         OperationState
	TransactionID string
}

// Interpretation is the canonical reading of a gateway-reported status,
// shared by notification reconciliation and server-initiated queries.
type Interpretation int

const (
	InterpretIgnore Interpretation = iota
	InterpretAuthorised
	InterpretAuthRejected
	InterpretAuthError
	InterpretCaptured
	InterpretCaptureError
	InterpretCancelled // generic; resolved against the charge's current status
	InterpretRefunded
	InterpretRefundError
)

// StatusResult is the canonical answer to a status query.
type StatusResult struct {
	Interpretation Interpretation
	RawStatus      string
}

// PaymentGateway is the capability set every provider adapter implements.
// Adapters translate into the canonical vocabulary before returning;
// provider status codes never cross this boundary. Transport failures are
// returned as errors, business declines as results.
type PaymentGateway interface {
	Name() models.GatewayName

	Authorise(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error)

	// AuthoriseRecurring charges a stored payment instrument with the user
	// not present. Failures additionally report retriability so the caller
	// can decide whether to deactivate the instrument.
	AuthoriseRecurring(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error)

	Capture(ctx context.Context, charge *models.Charge) (*CaptureResult, error)
	Cancel(ctx context.Context, charge *models.Charge) (*CancelResult, error)
	Refund(ctx context.Context, charge *models.Charge, refund *models.Refund) (*RefundResult, error)

	// SupportsStatusQuery reports whether QueryStatus is available for this
	// gateway. Adapters without the capability say so here rather than
	// erroring at call time.
	SupportsStatusQuery() bool
	QueryStatus(ctx context.Context, charge *models.Charge) (*StatusResult, error)

	// DeleteStoredInstrument removes a stored payment instrument after a
	// non-retriable recurring decline.
	DeleteStoredInstrument(ctx context.Context, instrumentRef string) error
}

// GatewayRegistry resolves the adapter for a charge's gateway name. Built
// once at startup; reads need no locking.
type GatewayRegistry struct {
	gateways map[models.GatewayName]PaymentGateway
}

// NewGatewayRegistry creates an empty registry.
func NewGatewayRegistry() *GatewayRegistry {
	return &GatewayRegistry{gateways: make(map[models.GatewayName]PaymentGateway)}
}

// Register adds a gateway adapter.
func (r *GatewayRegistry) Register(g PaymentGateway) {
	r.gateways[g.Name()] = g
}

// Get returns the adapter for a gateway name.
func (r *GatewayRegistry) Get(name models.GatewayName) (PaymentGateway, bool) {
	g, ok := r.gateways[name]
	return g, ok
}

// observeGateway records the latency of one outbound gateway operation.
// Callers defer it with the pre-call timestamp.
func observeGateway(gateway models.GatewayName, operation string, start time.Time) {
	metrics.GatewayLatency.WithLabelValues(string(gateway), operation).
		Observe(time.Since(start).Seconds())
}
