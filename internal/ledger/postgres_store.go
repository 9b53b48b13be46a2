package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables with NUMERIC money columns
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS claims (
			id                VARCHAR(64) PRIMARY KEY,
			patient_id        VARCHAR(64) NOT NULL,
			patient_name      VARCHAR(255) NOT NULL DEFAULT '',
			payer             VARCHAR(255) NOT NULL,
			provider          VARCHAR(255) NOT NULL,
			facility          VARCHAR(255) NOT NULL DEFAULT '',
			billed_amount     NUMERIC(14,2) NOT NULL,
			paid_amount       NUMERIC(14,2) NOT NULL DEFAULT 0,
			adjustment_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
			service_date      DATE NOT NULL,
			submission_date   DATE NOT NULL,
			status            VARCHAR(20) NOT NULL,
			denial_reason     TEXT NOT NULL DEFAULT '',
			diagnosis_codes   TEXT[] NOT NULL DEFAULT '{}',
			procedure_codes   TEXT[] NOT NULL DEFAULT '{}',
			prior_auth        BOOLEAN NOT NULL DEFAULT FALSE,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_billed_nonneg CHECK (billed_amount >= 0),
			CONSTRAINT chk_paid_within_billed CHECK (paid_amount >= 0 AND paid_amount <= billed_amount)
		);

		CREATE INDEX IF NOT EXISTS idx_claims_payer_patient ON claims(payer, patient_id);
		CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);
		CREATE INDEX IF NOT EXISTS idx_claims_created ON claims(created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS payments (
			id                VARCHAR(64) PRIMARY KEY,
			payer             VARCHAR(255) NOT NULL,
			claim_id          VARCHAR(64) NOT NULL DEFAULT '',
			patient_id        VARCHAR(64) NOT NULL DEFAULT '',
			billed_hint       NUMERIC(14,2) NOT NULL DEFAULT 0,
			paid_amount       NUMERIC(14,2) NOT NULL,
			adjustment_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
			payment_date      DATE NOT NULL,
			denial_reason     TEXT NOT NULL DEFAULT '',
			match_status      VARCHAR(20) NOT NULL DEFAULT 'unmatched',
			matched_claim_id  VARCHAR(64) NOT NULL DEFAULT '',
			session_id        VARCHAR(64) NOT NULL DEFAULT '',
			source            VARCHAR(20) NOT NULL DEFAULT 'api',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_payment_nonneg CHECK (paid_amount >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_payments_match_status ON payments(match_status);
		CREATE INDEX IF NOT EXISTS idx_payments_created ON payments(created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS claim_events (
			id          VARCHAR(64) PRIMARY KEY,
			claim_id    VARCHAR(64) NOT NULL,
			from_status VARCHAR(20) NOT NULL,
			to_status   VARCHAR(20) NOT NULL,
			reference   VARCHAR(64) NOT NULL DEFAULT '',
			note        TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_claim_events_claim ON claim_events(claim_id, created_at);

		CREATE TABLE IF NOT EXISTS reconciliation_sessions (
			id             VARCHAR(64) PRIMARY KEY,
			started_at     TIMESTAMPTZ NOT NULL,
			completed_at   TIMESTAMPTZ NOT NULL,
			payments_total INT NOT NULL,
			matched        INT NOT NULL,
			partial_match  INT NOT NULL,
			unmatched      INT NOT NULL,
			total_paid     NUMERIC(14,2) NOT NULL DEFAULT 0,
			matched_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
			confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_created ON reconciliation_sessions(created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS discrepancies (
			id          VARCHAR(64) PRIMARY KEY,
			session_id  VARCHAR(64) NOT NULL REFERENCES reconciliation_sessions(id),
			kind        VARCHAR(30) NOT NULL,
			claim_id    VARCHAR(64) NOT NULL DEFAULT '',
			payment_id  VARCHAR(64) NOT NULL,
			expected    NUMERIC(14,2) NOT NULL DEFAULT 0,
			actual      NUMERIC(14,2) NOT NULL DEFAULT 0,
			difference  NUMERIC(14,2) NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_discrepancies_session ON discrepancies(session_id);
	`)
	if err != nil {
		return storeErr("migrate", err)
	}
	return nil
}

const claimColumns = `id, patient_id, patient_name, payer, provider, facility,
	billed_amount, paid_amount, adjustment_amount, service_date, submission_date,
	status, denial_reason, diagnosis_codes, procedure_codes, prior_auth,
	created_at, updated_at`

func (p *PostgresStore) CreateClaim(ctx context.Context, claim *Claim) error {
	now := time.Now().UTC()
	claim.CreatedAt = now
	claim.UpdatedAt = now
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, claim.ID, claim.PatientID, claim.PatientName, claim.Payer, claim.Provider,
		claim.Facility, claim.BilledAmount, claim.PaidAmount, claim.AdjustmentAmount,
		claim.ServiceDate, claim.SubmissionDate, claim.Status, claim.DenialReason,
		pq.Array(claim.DiagnosisCodes), pq.Array(claim.ProcedureCodes), claim.PriorAuth,
		claim.CreatedAt, claim.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateClaim
	}
	if err != nil {
		return storeErr("create claim", err)
	}
	return nil
}

func scanClaim(row interface{ Scan(...any) error }) (*Claim, error) {
	c := &Claim{}
	var diag, proc pq.StringArray
	err := row.Scan(&c.ID, &c.PatientID, &c.PatientName, &c.Payer, &c.Provider,
		&c.Facility, &c.BilledAmount, &c.PaidAmount, &c.AdjustmentAmount,
		&c.ServiceDate, &c.SubmissionDate, &c.Status, &c.DenialReason,
		&diag, &proc, &c.PriorAuth, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.DiagnosisCodes = diag
	c.ProcedureCodes = proc
	return c, nil
}

func (p *PostgresStore) GetClaim(ctx context.Context, id string) (*Claim, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id)
	claim, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, storeErr("get claim", err)
	}
	return claim, nil
}

func (p *PostgresStore) ListClaims(ctx context.Context, f ClaimFilter) ([]*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE 1=1`
	args := []any{}
	n := 0
	add := func(clause string, value any) {
		n++
		query += fmt.Sprintf(" AND "+clause, n)
		args = append(args, value)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Payer != "" {
		add("LOWER(payer) = LOWER($%d)", f.Payer)
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Cursor != nil {
		n += 2
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", n-1, n)
		args = append(args, f.Cursor.CreatedAt, f.Cursor.ID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list claims", err)
	}
	defer rows.Close()

	out := make([]*Claim, 0)
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, storeErr("list claims", err)
		}
		out = append(out, claim)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateClaim(ctx context.Context, claim *Claim) error {
	return p.execUpdateClaim(ctx, p.db, claim)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *PostgresStore) execUpdateClaim(ctx context.Context, ex execer, claim *Claim) error {
	result, err := ex.ExecContext(ctx, `
		UPDATE claims SET
			paid_amount = $2, adjustment_amount = $3, status = $4,
			denial_reason = $5, prior_auth = $6, updated_at = NOW()
		WHERE id = $1
	`, claim.ID, claim.PaidAmount, claim.AdjustmentAmount, claim.Status,
		claim.DenialReason, claim.PriorAuth)
	if err != nil {
		return storeErr("update claim", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrClaimNotFound
	}
	return nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event *ClaimEvent) error {
	return p.execAppendEvent(ctx, p.db, event)
}

func (p *PostgresStore) execAppendEvent(ctx context.Context, ex execer, event *ClaimEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO claim_events (id, claim_id, from_status, to_status, reference, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, event.ID, event.ClaimID, event.FromStatus, event.ToStatus,
		event.Reference, event.Note, event.CreatedAt)
	if err != nil {
		return storeErr("append event", err)
	}
	return nil
}

func (p *PostgresStore) ClaimEvents(ctx context.Context, claimID string) ([]*ClaimEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, claim_id, from_status, to_status, reference, note, created_at
		FROM claim_events WHERE claim_id = $1 ORDER BY created_at, id
	`, claimID)
	if err != nil {
		return nil, storeErr("claim events", err)
	}
	defer rows.Close()

	out := make([]*ClaimEvent, 0)
	for rows.Next() {
		e := &ClaimEvent{}
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.FromStatus, &e.ToStatus,
			&e.Reference, &e.Note, &e.CreatedAt); err != nil {
			return nil, storeErr("claim events", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const paymentColumns = `id, payer, claim_id, patient_id, billed_hint, paid_amount,
	adjustment_amount, payment_date, denial_reason, match_status, matched_claim_id,
	session_id, source, created_at, updated_at`

func (p *PostgresStore) CreatePayment(ctx context.Context, payment *Payment) error {
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, payment.ID, payment.Payer, payment.ClaimID, payment.PatientID,
		payment.BilledHint, payment.PaidAmount, payment.AdjustmentAmount,
		payment.PaymentDate, payment.DenialReason, payment.MatchStatus,
		payment.MatchedClaimID, payment.SessionID, payment.Source,
		payment.CreatedAt, payment.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicatePayment
	}
	if err != nil {
		return storeErr("create payment", err)
	}
	return nil
}

func scanPayment(row interface{ Scan(...any) error }) (*Payment, error) {
	pm := &Payment{}
	err := row.Scan(&pm.ID, &pm.Payer, &pm.ClaimID, &pm.PatientID, &pm.BilledHint,
		&pm.PaidAmount, &pm.AdjustmentAmount, &pm.PaymentDate, &pm.DenialReason,
		&pm.MatchStatus, &pm.MatchedClaimID, &pm.SessionID, &pm.Source,
		&pm.CreatedAt, &pm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return pm, nil
}

func (p *PostgresStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	payment, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, storeErr("get payment", err)
	}
	return payment, nil
}

func (p *PostgresStore) ListPayments(ctx context.Context, f PaymentFilter) ([]*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1=1`
	args := []any{}
	n := 0
	if f.MatchStatus != "" {
		n++
		query += fmt.Sprintf(" AND match_status = $%d", n)
		args = append(args, string(f.MatchStatus))
	}
	if f.Payer != "" {
		n++
		query += fmt.Sprintf(" AND LOWER(payer) = LOWER($%d)", n)
		args = append(args, f.Payer)
	}
	if f.Cursor != nil {
		n += 2
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", n-1, n)
		args = append(args, f.Cursor.CreatedAt, f.Cursor.ID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list payments", err)
	}
	defer rows.Close()

	out := make([]*Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, storeErr("list payments", err)
		}
		out = append(out, payment)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdatePayment(ctx context.Context, payment *Payment) error {
	return p.execUpdatePayment(ctx, p.db, payment)
}

func (p *PostgresStore) execUpdatePayment(ctx context.Context, ex execer, payment *Payment) error {
	result, err := ex.ExecContext(ctx, `
		UPDATE payments SET
			match_status = $2, matched_claim_id = $3, session_id = $4, updated_at = NOW()
		WHERE id = $1
	`, payment.ID, payment.MatchStatus, payment.MatchedClaimID, payment.SessionID)
	if err != nil {
		return storeErr("update payment", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (p *PostgresStore) OpenClaims(ctx context.Context, payer, patientID string) ([]*Claim, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE LOWER(payer) = LOWER($1) AND patient_id = $2
		  AND status NOT IN ('paid', 'denied')
		ORDER BY submission_date, id
	`, payer, patientID)
	if err != nil {
		return nil, storeErr("open claims", err)
	}
	defer rows.Close()

	out := make([]*Claim, 0)
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, storeErr("open claims", err)
		}
		out = append(out, claim)
	}
	return out, rows.Err()
}

func (p *PostgresStore) OpenPayments(ctx context.Context) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE match_status IN ('unmatched', 'disputed')
		ORDER BY id
	`)
	if err != nil {
		return nil, storeErr("open payments", err)
	}
	defer rows.Close()

	out := make([]*Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, storeErr("open payments", err)
		}
		out = append(out, payment)
	}
	return out, rows.Err()
}

// CommitSession writes the session, its discrepancies, and every claim and
// payment mutation in a single transaction.
func (p *PostgresStore) CommitSession(ctx context.Context, commit *SessionCommit) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return storeErr("begin session commit", err)
	}
	defer tx.Rollback()

	s := commit.Session
	s.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reconciliation_sessions
			(id, started_at, completed_at, payments_total, matched, partial_match,
			 unmatched, total_paid, matched_amount, confidence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, s.ID, s.StartedAt, s.CompletedAt, s.PaymentsTotal, s.Matched, s.PartialMatch,
		s.Unmatched, s.TotalPaid, s.MatchedAmount, s.Confidence, s.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateSession
	}
	if err != nil {
		return storeErr("insert session", err)
	}

	for _, d := range s.Discrepancies {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = s.CreatedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO discrepancies
				(id, session_id, kind, claim_id, payment_id, expected, actual,
				 difference, description, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, d.ID, d.SessionID, d.Kind, d.ClaimID, d.PaymentID,
			d.Expected, d.Actual, d.Difference, d.Description, d.CreatedAt)
		if err != nil {
			return storeErr("insert discrepancy", err)
		}
	}

	for _, c := range commit.Claims {
		if err := p.execUpdateClaim(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, pm := range commit.Payments {
		if err := p.execUpdatePayment(ctx, tx, pm); err != nil {
			return err
		}
	}
	for _, e := range commit.Events {
		if err := p.execAppendEvent(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit session", err)
	}
	return nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*ReconciliationSession, error) {
	s := &ReconciliationSession{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, payments_total, matched, partial_match,
		       unmatched, total_paid, matched_amount, confidence, created_at
		FROM reconciliation_sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.StartedAt, &s.CompletedAt, &s.PaymentsTotal, &s.Matched,
		&s.PartialMatch, &s.Unmatched, &s.TotalPaid, &s.MatchedAmount,
		&s.Confidence, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, storeErr("get session", err)
	}
	if err := p.loadDiscrepancies(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) loadDiscrepancies(ctx context.Context, s *ReconciliationSession) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, kind, claim_id, payment_id, expected, actual,
		       difference, description, created_at
		FROM discrepancies WHERE session_id = $1 ORDER BY id
	`, s.ID)
	if err != nil {
		return storeErr("load discrepancies", err)
	}
	defer rows.Close()

	s.Discrepancies = make([]*Discrepancy, 0)
	for rows.Next() {
		d := &Discrepancy{}
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Kind, &d.ClaimID, &d.PaymentID,
			&d.Expected, &d.Actual, &d.Difference, &d.Description, &d.CreatedAt); err != nil {
			return storeErr("load discrepancies", err)
		}
		s.Discrepancies = append(s.Discrepancies, d)
	}
	return rows.Err()
}

func (p *PostgresStore) ListSessions(ctx context.Context, f SessionFilter) ([]*ReconciliationSession, error) {
	query := `
		SELECT id, started_at, completed_at, payments_total, matched, partial_match,
		       unmatched, total_paid, matched_amount, confidence, created_at
		FROM reconciliation_sessions WHERE 1=1`
	args := []any{}
	n := 0
	if !f.From.IsZero() {
		n++
		query += fmt.Sprintf(" AND started_at >= $%d", n)
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		n++
		query += fmt.Sprintf(" AND started_at <= $%d", n)
		args = append(args, f.To)
	}
	if f.Cursor != nil {
		n += 2
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", n-1, n)
		args = append(args, f.Cursor.CreatedAt, f.Cursor.ID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()

	out := make([]*ReconciliationSession, 0)
	for rows.Next() {
		s := &ReconciliationSession{}
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.CompletedAt, &s.PaymentsTotal,
			&s.Matched, &s.PartialMatch, &s.Unmatched, &s.TotalPaid,
			&s.MatchedAmount, &s.Confidence, &s.CreatedAt); err != nil {
			return nil, storeErr("list sessions", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list sessions", err)
	}
	for _, s := range out {
		if err := p.loadDiscrepancies(ctx, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *PostgresStore) DenialStats(ctx context.Context, payer, procedureCode string) (int, int, error) {
	var denied, total int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'denied'), COUNT(*)
		FROM claims
		WHERE LOWER(payer) = LOWER($1)
		  AND $2 = ANY(procedure_codes)
		  AND status IN ('paid', 'denied')
	`, payer, procedureCode).Scan(&denied, &total)
	if err != nil {
		return 0, 0, storeErr("denial stats", err)
	}
	return denied, total, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// storeErr wraps driver-level failures so handlers can map them to 503.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
