package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cardforge/connector/internal/models"
	"github.com/cardforge/connector/internal/queue"
	"github.com/cardforge/connector/internal/utils"
)

var errMockStore = errors.New("mock store failure")

// memChargeStore is an in-memory ChargeStore. Find methods return copies so
// a caller's in-flight charge never aliases the persisted row; the
// compare-and-set therefore races exactly like the SQL implementation.
type memChargeStore struct {
	mu       sync.Mutex
	nextID   int64
	rows     map[int64]*models.Charge
	historic map[string]*models.Charge
}

func newMemChargeStore() *memChargeStore {
	return &memChargeStore{
		rows:     make(map[int64]*models.Charge),
		historic: make(map[string]*models.Charge),
	}
}

func copyCharge(c *models.Charge) *models.Charge {
	dup := *c
	return &dup
}

func (s *memChargeStore) Create(charge *models.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	charge.ID = s.nextID
	s.rows[charge.ID] = copyCharge(charge)
	return nil
}

// put seeds a charge directly, bypassing Create, for test setup.
func (s *memChargeStore) put(charge *models.Charge) *models.Charge {
	s.mu.Lock()
	defer s.mu.Unlock()
	if charge.ID == 0 {
		s.nextID++
		charge.ID = s.nextID
	}
	s.rows[charge.ID] = copyCharge(charge)
	return charge
}

// putHistoric seeds the archival store.
func (s *memChargeStore) putHistoric(charge *models.Charge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(charge.Gateway) + "|" + deref(charge.GatewayTransactionID)
	s.historic[key] = copyCharge(charge)
}

// statusOf reads the persisted status, not any caller copy.
func (s *memChargeStore) statusOf(id int64) models.ChargeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Status
}

// setStatus rewrites the persisted status behind a caller's back, to
// simulate a concurrent writer.
func (s *memChargeStore) setStatus(id int64, status models.ChargeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].Status = status
}

func (s *memChargeStore) FindByExternalID(externalID string) (*models.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.rows {
		if c.ExternalID == externalID {
			return copyCharge(c), nil
		}
	}
	return nil, utils.ErrChargeNotFound
}

func (s *memChargeStore) FindByGatewayTransactionID(gateway models.GatewayName, txnID string) (*models.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.rows {
		if c.Gateway == gateway && c.GatewayTransactionID != nil && *c.GatewayTransactionID == txnID {
			return copyCharge(c), nil
		}
	}
	return nil, utils.ErrChargeNotFound
}

func (s *memChargeStore) FindHistoricByGatewayTransactionID(gateway models.GatewayName, txnID string) (*models.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.historic[string(gateway)+"|"+txnID]; ok {
		return copyCharge(c), nil
	}
	return nil, utils.ErrChargeNotFound
}

func (s *memChargeStore) CompareAndSetStatus(chargeID int64, expected, next models.ChargeStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[chargeID]
	if !ok {
		return false, utils.ErrChargeNotFound
	}
	if row.Status != expected {
		return false, nil
	}
	row.Status = next
	row.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *memChargeStore) SetGatewayTransactionID(chargeID int64, txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[chargeID]
	if !ok {
		return utils.ErrChargeNotFound
	}
	if row.GatewayTransactionID != nil && *row.GatewayTransactionID != txnID {
		return fmt.Errorf("%w: gateway transaction id already set", utils.ErrConflict)
	}
	row.GatewayTransactionID = &txnID
	return nil
}

func (s *memChargeStore) SetCanRetry(chargeID int64, canRetry bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[chargeID].CanRetry = &canRetry
	return nil
}

func (s *memChargeStore) IncrementCaptureAttempts(chargeID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rows[chargeID]
	row.CaptureAttempts++
	return row.CaptureAttempts, nil
}

func (s *memChargeStore) SetNetAmount(chargeID int64, netAmount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[chargeID].NetAmount = &netAmount
	return nil
}

func (s *memChargeStore) FindStaleInStatus(statuses []models.ChargeStatus, threshold time.Duration) ([]models.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-threshold)
	var out []models.Charge
	for _, c := range s.rows {
		for _, st := range statuses {
			if c.Status == st && c.CreatedAt.Before(cutoff) {
				out = append(out, *c)
			}
		}
	}
	return out, nil
}

// memEventStore records status history appends.
type memEventStore struct {
	mu     sync.Mutex
	events []models.ChargeEvent
	err    error
}

func (s *memEventStore) Append(chargeID int64, status models.ChargeStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, models.ChargeEvent{
		ID:        int64(len(s.events) + 1),
		ChargeID:  chargeID,
		Status:    status,
		CreatedAt: at,
	})
	return nil
}

func (s *memEventStore) ListForCharge(chargeID int64) ([]models.ChargeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChargeEvent
	for _, e := range s.events {
		if e.ChargeID == chargeID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memEventStore) statuses(chargeID int64) []models.ChargeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChargeStatus
	for _, e := range s.events {
		if e.ChargeID == chargeID {
			out = append(out, e.Status)
		}
	}
	return out
}

// memRefundStore is an in-memory RefundStore. The availability check
// mirrors the SQL implementation's contract against the seeded charge
// amounts.
type memRefundStore struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]*models.Refund
	charges   *memChargeStore
	createErr error
}

func newMemRefundStore(charges *memChargeStore) *memRefundStore {
	return &memRefundStore{rows: make(map[int64]*models.Refund), charges: charges}
}

func (s *memRefundStore) CreateWithAvailabilityCheck(refund *models.Refund, expectedAvailable int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	available := s.chargeAmount(refund.ChargeID) - s.sumNonErroredLocked(refund.ChargeID)
	if available != expectedAvailable {
		return utils.ErrRefundAmountMismatch
	}
	if refund.Amount > available {
		return utils.ErrRefundNotAvailable
	}
	s.nextID++
	refund.ID = s.nextID
	dup := *refund
	s.rows[refund.ID] = &dup
	return nil
}

func (s *memRefundStore) chargeAmount(chargeID int64) int64 {
	s.charges.mu.Lock()
	defer s.charges.mu.Unlock()
	if c, ok := s.charges.rows[chargeID]; ok {
		return c.Amount
	}
	return 0
}

func (s *memRefundStore) FindByExternalID(externalID string) (*models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ExternalID == externalID {
			dup := *r
			return &dup, nil
		}
	}
	return nil, utils.ErrRefundNotFound
}

func (s *memRefundStore) FindSubmittedForCharge(chargeID int64) (*models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.Refund
	for _, r := range s.rows {
		if r.ChargeID == chargeID && r.Status == models.RefundSubmitted {
			if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
				oldest = r
			}
		}
	}
	if oldest == nil {
		return nil, utils.ErrRefundNotFound
	}
	dup := *oldest
	return &dup, nil
}

func (s *memRefundStore) CompareAndSetStatus(refundID int64, expected, next models.RefundStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[refundID]
	if !ok {
		return false, utils.ErrRefundNotFound
	}
	if row.Status != expected {
		return false, nil
	}
	row.Status = next
	return true, nil
}

func (s *memRefundStore) SetGatewayTransactionID(refundID int64, txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[refundID].GatewayTransactionID = &txnID
	return nil
}

func (s *memRefundStore) SumNonErrored(chargeID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumNonErroredLocked(chargeID), nil
}

func (s *memRefundStore) sumNonErroredLocked(chargeID int64) int64 {
	var total int64
	for _, r := range s.rows {
		if r.ChargeID == chargeID && r.Status != models.RefundError {
			total += r.Amount
		}
	}
	return total
}

func (s *memRefundStore) statusOf(refundID int64) models.RefundStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[refundID].Status
}

// memFeeStore records fee rows.
type memFeeStore struct {
	mu   sync.Mutex
	rows []models.Fee
}

func (s *memFeeStore) Create(fee *models.Fee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fee.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, *fee)
	return nil
}

func (s *memFeeStore) ListForCharge(chargeID int64) ([]models.Fee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Fee
	for _, f := range s.rows {
		if f.ChargeID == chargeID {
			out = append(out, f)
		}
	}
	return out, nil
}

// memQueue records sent tasks; Receive/Ack/ScheduleRetry are inert.
type memQueue struct {
	mu   sync.Mutex
	sent []queue.Message
}

func (q *memQueue) Send(ctx context.Context, kind queue.TaskKind, target string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, queue.Message{Kind: kind, Target: target})
	return nil
}

func (q *memQueue) Receive(ctx context.Context, max int) ([]queue.Message, error) { return nil, nil }
func (q *memQueue) Ack(ctx context.Context, msg queue.Message) error              { return nil }
func (q *memQueue) ScheduleRetry(ctx context.Context, msg queue.Message, delay time.Duration) error {
	return nil
}

func (q *memQueue) sentKinds() []queue.TaskKind {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.TaskKind
	for _, m := range q.sent {
		out = append(out, m.Kind)
	}
	return out
}

// stubGateway is a PaymentGateway whose behavior is overridden per test via
// function fields. Unset fields return a benign default.
type stubGateway struct {
	name          models.GatewayName
	supportsQuery bool

	authoriseFn func(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error)
	recurringFn func(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error)
	captureFn   func(ctx context.Context, charge *models.Charge) (*CaptureResult, error)
	cancelFn    func(ctx context.Context, charge *models.Charge) (*CancelResult, error)
	refundFn    func(ctx context.Context, charge *models.Charge, refund *models.Refund) (*RefundResult, error)
	queryFn     func(ctx context.Context, charge *models.Charge) (*StatusResult, error)

	mu          sync.Mutex
	deletedRefs []string
}

func (g *stubGateway) Name() models.GatewayName {
	if g.name == "" {
		return models.GatewaySandbox
	}
	return g.name
}

func (g *stubGateway) Authorise(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
	if g.authoriseFn != nil {
		return g.authoriseFn(ctx, req)
	}
	return &AuthoriseResult{Outcome: AuthoriseAuthorised, TransactionID: "txn-1"}, nil
}

func (g *stubGateway) AuthoriseRecurring(ctx context.Context, req *AuthoriseRequest) (*AuthoriseResult, error) {
	if g.recurringFn != nil {
		return g.recurringFn(ctx, req)
	}
	return &AuthoriseResult{Outcome: AuthoriseAuthorised, TransactionID: "txn-1"}, nil
}

func (g *stubGateway) Capture(ctx context.Context, charge *models.Charge) (*CaptureResult, error) {
	if g.captureFn != nil {
		return g.captureFn(ctx, charge)
	}
	return &CaptureResult{State: StateComplete}, nil
}

func (g *stubGateway) Cancel(ctx context.Context, charge *models.Charge) (*CancelResult, error) {
	if g.cancelFn != nil {
		return g.cancelFn(ctx, charge)
	}
	return &CancelResult{State: StateComplete}, nil
}

func (g *stubGateway) Refund(ctx context.Context, charge *models.Charge, refund *models.Refund) (*RefundResult, error) {
	if g.refundFn != nil {
		return g.refundFn(ctx, charge, refund)
	}
	return &RefundResult{State: StateComplete, TransactionID: "rtxn-1"}, nil
}

func (g *stubGateway) SupportsStatusQuery() bool { return g.supportsQuery }

func (g *stubGateway) QueryStatus(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
	if g.queryFn != nil {
		return g.queryFn(ctx, charge)
	}
	return &StatusResult{Interpretation: InterpretIgnore}, nil
}

func (g *stubGateway) DeleteStoredInstrument(ctx context.Context, instrumentRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletedRefs = append(g.deletedRefs, instrumentRef)
	return nil
}

// memChallengeStore holds 3DS pages in a map.
type memChallengeStore struct {
	mu    sync.Mutex
	pages map[string]string
}

func newMemChallengeStore() *memChallengeStore {
	return &memChallengeStore{pages: make(map[string]string)}
}

func (s *memChallengeStore) StoreChallenge(ctx context.Context, chargeID, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[chargeID] = html
	return nil
}

func (s *memChallengeStore) FetchChallenge(ctx context.Context, chargeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	html, ok := s.pages[chargeID]
	if !ok {
		return "", errMockStore
	}
	return html, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
