package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresStore persists transactions in PostgreSQL. Transition uses a
// row lock (SELECT ... FOR UPDATE) so the status precondition and the write
// are atomic per transaction id.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `id, receipt_code, merchant_wallet, resource_id, agent_wallet,
		trim_scale(amount)::TEXT, network, token, status, payment_header, verify_reason,
		dispute_reason, merchant_explanation,
		verdict_decision, verdict_reasoning, verdict_confidence, analyzed_at,
		payout_route, payout_ref,
		auto_settle_at, created_at, updated_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, receipt_code, merchant_wallet, resource_id, agent_wallet,
			amount, network, token, status, payment_header, verify_reason,
			dispute_reason, merchant_explanation,
			verdict_decision, verdict_reasoning, verdict_confidence, analyzed_at,
			payout_route, payout_ref,
			auto_settle_at, created_at, updated_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::NUMERIC(20,6), $7, $8, $9, $10, $11,
			$12, $13,
			$14, $15, $16, $17,
			$18, $19,
			$20, $21, $22, $23
		)`,
		tx.ID, tx.ReceiptCode, tx.MerchantWallet, tx.ResourceID, tx.AgentWallet,
		tx.Amount, tx.Network, tx.Token, string(tx.Status), tx.PaymentHeader,
		nullString(tx.VerifyReason),
		nullString(tx.DisputeReason), nullString(tx.MerchantExplanation),
		verdictDecision(tx.AIVerdict), verdictReasoning(tx.AIVerdict),
		verdictConfidence(tx.AIVerdict), verdictAnalyzedAt(tx.AIVerdict),
		nullString(tx.PayoutRoute), nullString(tx.PayoutRef),
		tx.AutoSettleAt, tx.CreatedAt, tx.UpdatedAt, nullTime(tx.ResolvedAt),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (p *PostgresStore) GetByReceipt(ctx context.Context, code string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE receipt_code = $1`, code)
	return scanTransaction(row)
}

func (p *PostgresStore) Transition(ctx context.Context, id string, from Status, mutate func(*Transaction) error) (*Transaction, error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	row := dbTx.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}

	if tx.Status != from {
		return nil, ErrInvalidStateTransition
	}

	if err := mutate(tx); err != nil {
		return nil, err
	}
	if tx.Status != from && !from.CanTransitionTo(tx.Status) {
		return nil, ErrInvalidStateTransition
	}
	tx.UpdatedAt = time.Now()

	// payment_header is deliberately absent: the raw proof is immutable.
	res, err := dbTx.ExecContext(ctx, `
		UPDATE transactions SET
			status = $1, verify_reason = $2,
			dispute_reason = $3, merchant_explanation = $4,
			verdict_decision = $5, verdict_reasoning = $6,
			verdict_confidence = $7, analyzed_at = $8,
			payout_route = $9, payout_ref = $10,
			updated_at = $11, resolved_at = $12
		WHERE id = $13 AND status = $14`,
		string(tx.Status), nullString(tx.VerifyReason),
		nullString(tx.DisputeReason), nullString(tx.MerchantExplanation),
		verdictDecision(tx.AIVerdict), verdictReasoning(tx.AIVerdict),
		verdictConfidence(tx.AIVerdict), verdictAnalyzedAt(tx.AIVerdict),
		nullString(tx.PayoutRoute), nullString(tx.PayoutRef),
		tx.UpdatedAt, nullTime(tx.ResolvedAt),
		tx.ID, string(from),
	)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrInvalidStateTransition
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return tx, nil
}

func (p *PostgresStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE status = $1 AND auto_settle_at <= $2
		 ORDER BY auto_settle_at ASC LIMIT $3`,
		string(StatusPending), before, limit)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (p *PostgresStore) ListByAgent(ctx context.Context, wallet string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE agent_wallet = $1 ORDER BY created_at DESC LIMIT $2`,
		strings.ToLower(wallet), limit)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (p *PostgresStore) ListByMerchant(ctx context.Context, wallet string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE merchant_wallet = $1 ORDER BY created_at DESC LIMIT $2`,
		strings.ToLower(wallet), limit)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (p *PostgresStore) AggregateForMerchant(ctx context.Context, wallet string) (*Aggregate, error) {
	return p.aggregate(ctx,
		`SELECT `+aggregateSelect+` FROM transactions WHERE merchant_wallet = $1`,
		strings.ToLower(wallet))
}

func (p *PostgresStore) AggregateForResource(ctx context.Context, resourceID string) (*Aggregate, error) {
	return p.aggregate(ctx,
		`SELECT `+aggregateSelect+` FROM transactions WHERE resource_id = $1`,
		resourceID)
}

const aggregateSelect = `
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'SETTLED'),
	COUNT(*) FILTER (WHERE status = 'REFUNDED'),
	COUNT(*) FILTER (WHERE status = 'REFUND_REQUESTED'),
	COALESCE(SUM(amount) FILTER (WHERE status = 'SETTLED'), 0)::FLOAT8,
	COALESCE(MIN(created_at), 'epoch'::TIMESTAMPTZ)`

func (p *PostgresStore) aggregate(ctx context.Context, query string, arg string) (*Aggregate, error) {
	var agg Aggregate
	err := p.db.QueryRowContext(ctx, query, arg).Scan(
		&agg.AccessCount, &agg.SettledCount, &agg.RefundedCount,
		&agg.OpenDisputes, &agg.TotalEarnings, &agg.FirstAt,
	)
	if err != nil {
		return nil, err
	}
	if agg.AccessCount == 0 {
		agg.FirstAt = time.Time{}
	}
	return &agg, nil
}

// ----------------------------------------------------------------------------
// scanning helpers
// ----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var tx Transaction
	var status string
	var verifyReason, disputeReason, explanation sql.NullString
	var verdictDec, verdictReas sql.NullString
	var verdictConf sql.NullFloat64
	var analyzedAt, resolvedAt sql.NullTime
	var payoutRoute, payoutRef sql.NullString

	err := row.Scan(
		&tx.ID, &tx.ReceiptCode, &tx.MerchantWallet, &tx.ResourceID, &tx.AgentWallet,
		&tx.Amount, &tx.Network, &tx.Token, &status, &tx.PaymentHeader, &verifyReason,
		&disputeReason, &explanation,
		&verdictDec, &verdictReas, &verdictConf, &analyzedAt,
		&payoutRoute, &payoutRef,
		&tx.AutoSettleAt, &tx.CreatedAt, &tx.UpdatedAt, &resolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Status = Status(status)
	tx.VerifyReason = verifyReason.String
	tx.DisputeReason = disputeReason.String
	tx.MerchantExplanation = explanation.String
	tx.PayoutRoute = payoutRoute.String
	tx.PayoutRef = payoutRef.String
	if resolvedAt.Valid {
		tx.ResolvedAt = &resolvedAt.Time
	}
	if verdictDec.Valid {
		tx.AIVerdict = &Verdict{
			Decision:   verdictDec.String,
			Reasoning:  verdictReas.String,
			Confidence: verdictConf.Float64,
			AnalyzedAt: analyzedAt.Time,
		}
	}
	return &tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func verdictDecision(v *Verdict) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.Decision, Valid: true}
}

func verdictReasoning(v *Verdict) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.Reasoning, Valid: true}
}

func verdictConfidence(v *Verdict) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v.Confidence, Valid: true}
}

func verdictAnalyzedAt(v *Verdict) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.AnalyzedAt, Valid: true}
}
