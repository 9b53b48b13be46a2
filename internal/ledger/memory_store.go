package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	claims   map[string]*Claim
	payments map[string]*Payment
	events   map[string][]*ClaimEvent // claimID -> ordered events
	sessions map[string]*ReconciliationSession
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:   make(map[string]*Claim),
		payments: make(map[string]*Payment),
		events:   make(map[string][]*ClaimEvent),
		sessions: make(map[string]*ReconciliationSession),
	}
}

func (m *MemoryStore) CreateClaim(ctx context.Context, claim *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.claims[claim.ID]; ok {
		return ErrDuplicateClaim
	}
	now := time.Now().UTC()
	cp := claim.Clone()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.claims[claim.ID] = cp
	claim.CreatedAt = now
	claim.UpdatedAt = now
	return nil
}

func (m *MemoryStore) GetClaim(ctx context.Context, id string) (*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	claim, ok := m.claims[id]
	if !ok {
		return nil, ErrClaimNotFound
	}
	return claim.Clone(), nil
}

func (m *MemoryStore) ListClaims(ctx context.Context, f ClaimFilter) ([]*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Claim, 0)
	for _, c := range m.claims {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Payer != "" && !strings.EqualFold(c.Payer, f.Payer) {
			continue
		}
		if f.PatientID != "" && c.PatientID != f.PatientID {
			continue
		}
		out = append(out, c.Clone())
	}
	sortNewestFirst(out, func(c *Claim) (time.Time, string) { return c.CreatedAt, c.ID })
	out = applyCursor(out, f.Cursor, func(c *Claim) (time.Time, string) { return c.CreatedAt, c.ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateClaim(ctx context.Context, claim *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateClaimLocked(claim)
}

func (m *MemoryStore) updateClaimLocked(claim *Claim) error {
	existing, ok := m.claims[claim.ID]
	if !ok {
		return ErrClaimNotFound
	}
	cp := claim.Clone()
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	m.claims[claim.ID] = cp
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event *ClaimEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEventLocked(event)
	return nil
}

func (m *MemoryStore) appendEventLocked(event *ClaimEvent) {
	cp := *event
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.events[event.ClaimID] = append(m.events[event.ClaimID], &cp)
}

func (m *MemoryStore) ClaimEvents(ctx context.Context, claimID string) ([]*ClaimEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.events[claimID]
	out := make([]*ClaimEvent, len(events))
	for i, e := range events {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) CreatePayment(ctx context.Context, payment *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[payment.ID]; ok {
		return ErrDuplicatePayment
	}
	now := time.Now().UTC()
	cp := payment.Clone()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.payments[payment.ID] = cp
	payment.CreatedAt = now
	payment.UpdatedAt = now
	return nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payment, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return payment.Clone(), nil
}

func (m *MemoryStore) ListPayments(ctx context.Context, f PaymentFilter) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Payment, 0)
	for _, p := range m.payments {
		if f.MatchStatus != "" && p.MatchStatus != f.MatchStatus {
			continue
		}
		if f.Payer != "" && !strings.EqualFold(p.Payer, f.Payer) {
			continue
		}
		out = append(out, p.Clone())
	}
	sortNewestFirst(out, func(p *Payment) (time.Time, string) { return p.CreatedAt, p.ID })
	out = applyCursor(out, f.Cursor, func(p *Payment) (time.Time, string) { return p.CreatedAt, p.ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdatePayment(ctx context.Context, payment *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePaymentLocked(payment)
}

func (m *MemoryStore) updatePaymentLocked(payment *Payment) error {
	existing, ok := m.payments[payment.ID]
	if !ok {
		return ErrPaymentNotFound
	}
	cp := payment.Clone()
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	m.payments[payment.ID] = cp
	return nil
}

func (m *MemoryStore) OpenClaims(ctx context.Context, payer, patientID string) ([]*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Claim, 0)
	for _, c := range m.claims {
		if c.Status.Resolved() {
			continue
		}
		if !strings.EqualFold(c.Payer, payer) || c.PatientID != patientID {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmissionDate.Equal(out[j].SubmissionDate) {
			return out[i].SubmissionDate.Before(out[j].SubmissionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) OpenPayments(ctx context.Context) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Payment, 0)
	for _, p := range m.payments {
		if p.MatchStatus.Open() {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CommitSession applies every mutation under one lock. Nothing is visible
// until the whole commit lands.
func (m *MemoryStore) CommitSession(ctx context.Context, commit *SessionCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[commit.Session.ID]; ok {
		return ErrDuplicateSession
	}
	// Verify every referenced record exists before touching anything.
	for _, c := range commit.Claims {
		if _, ok := m.claims[c.ID]; !ok {
			return ErrClaimNotFound
		}
	}
	for _, p := range commit.Payments {
		if _, ok := m.payments[p.ID]; !ok {
			return ErrPaymentNotFound
		}
	}

	for _, c := range commit.Claims {
		if err := m.updateClaimLocked(c); err != nil {
			return err
		}
	}
	for _, p := range commit.Payments {
		if err := m.updatePaymentLocked(p); err != nil {
			return err
		}
	}
	for _, e := range commit.Events {
		m.appendEventLocked(e)
	}

	session := cloneSession(commit.Session)
	session.CreatedAt = time.Now().UTC()
	m.sessions[session.ID] = session
	commit.Session.CreatedAt = session.CreatedAt
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*ReconciliationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, f SessionFilter) ([]*ReconciliationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ReconciliationSession, 0)
	for _, s := range m.sessions {
		if !f.From.IsZero() && s.StartedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && s.StartedAt.After(f.To) {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sortNewestFirst(out, func(s *ReconciliationSession) (time.Time, string) { return s.CreatedAt, s.ID })
	out = applyCursor(out, f.Cursor, func(s *ReconciliationSession) (time.Time, string) { return s.CreatedAt, s.ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) DenialStats(ctx context.Context, payer, procedureCode string) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	denied, total := 0, 0
	for _, c := range m.claims {
		if !strings.EqualFold(c.Payer, payer) || !c.Status.Resolved() {
			continue
		}
		if !hasCode(c.ProcedureCodes, procedureCode) {
			continue
		}
		total++
		if c.Status == ClaimDenied {
			denied++
		}
	}
	return denied, total, nil
}

func hasCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func cloneSession(s *ReconciliationSession) *ReconciliationSession {
	cp := *s
	cp.Discrepancies = make([]*Discrepancy, len(s.Discrepancies))
	for i, d := range s.Discrepancies {
		dc := *d
		cp.Discrepancies[i] = &dc
	}
	return &cp
}

// sortNewestFirst orders by (created_at DESC, id DESC), the same keyset order
// the Postgres store uses.
func sortNewestFirst[T any](items []T, key func(T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return idi > idj
	})
}

// applyCursor drops everything at or before the cursor position.
func applyCursor[T any](items []T, cursor *CursorPos, key func(T) (time.Time, string)) []T {
	if cursor == nil {
		return items
	}
	out := items[:0]
	for _, item := range items {
		t, id := key(item)
		if t.Before(cursor.CreatedAt) || (t.Equal(cursor.CreatedAt) && id < cursor.ID) {
			out = append(out, item)
		}
	}
	return out
}
