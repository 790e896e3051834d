package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/cardforge/connector/internal/models"
)

// SandboxGateway is the test double gateway: no network, deterministic
// outcomes keyed off well-known magic card numbers, immediate completion
// for every operation. Used in development environments and integration
// tests.
type SandboxGateway struct{}

// NewSandboxGateway creates the sandbox adapter.
func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{}
}

// Magic card numbers the sandbox recognises.
const (
	sandboxCardDeclined = "4000000000000002"
	sandboxCardError    = "4000000000000119"
	sandboxCard3DS      = "4000000000003220"
)

// Name returns the gateway code.
func (g *SandboxGateway) Name() models.GatewayName {
	return models.GatewaySandbox
}

// Authorise approves everything except the magic decline/error cards.
func (g *SandboxGateway) Authorise(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
	result := &AuthoriseResult{TransactionID: "sandbox-" + uuid.New().String()}
	switch strings.TrimSpace(req.Card.Number) {
	case sandboxCardDeclined:
		result.Outcome = AuthoriseRejected
	case sandboxCardError:
		result.Outcome = AuthoriseError
	case sandboxCard3DS:
		result.Outcome = AuthoriseRequires3DS
	default:
		result.Outcome = AuthoriseAuthorised
	}
	return result, nil
}

// AuthoriseRecurring approves stored instruments unless the reference asks
// for a decline, and always reports retriability so the agreement paths are
// exercisable.
func (g *SandboxGateway) AuthoriseRecurring(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
	result := &AuthoriseResult{TransactionID: "sandbox-" + uuid.New().String()}
	ref := ""
	if req.Charge.StoredInstrumentRef != nil {
		ref = *req.Charge.StoredInstrumentRef
	}
	switch {
	case strings.HasSuffix(ref, "-declined"):
		result.Outcome = AuthoriseRejected
		canRetry := false
		result.CanRetry = &canRetry
	case strings.HasSuffix(ref, "-retry"):
		result.Outcome = AuthoriseRejected
		canRetry := true
		result.CanRetry = &canRetry
	default:
		result.Outcome = AuthoriseAuthorised
	}
	return result, nil
}

// Capture completes immediately.
func (g *SandboxGateway) Capture(ctx context.Context, charge *models.Charge) (*CaptureResult, error) {
	return &CaptureResult{State: StateComplete}, nil
}

// Cancel completes immediately.
func (g *SandboxGateway) Cancel(ctx context.Context, charge *models.Charge) (*CancelResult, error) {
	return &CancelResult{State: StateComplete}, nil
}

// Refund completes immediately.
func (g *SandboxGateway) Refund(ctx context.Context, charge *models.Charge, refund *models.Refund) (*RefundResult, error) {
	return &RefundResult{State: StateComplete, TransactionID: "sandbox-refund-" + uuid.New().String()}, nil
}

// SupportsStatusQuery reports the sandbox has nothing authoritative to say.
func (g *SandboxGateway) SupportsStatusQuery() bool {
	return false
}

// QueryStatus is never called; the capability flag is false.
func (g *SandboxGateway) QueryStatus(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
	return &StatusResult{Interpretation: InterpretIgnore}, nil
}

// DeleteStoredInstrument succeeds trivially.
func (g *SandboxGateway) DeleteStoredInstrument(ctx context.Context, instrumentRef string) error {
	return nil
}
