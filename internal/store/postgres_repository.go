/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface for
 * users, campaigns, donations and the fraud signal queries. Wallet and withdrawal
 * queries live in postgres_wallet_repository.go.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Exact NUMERIC handling for fees and ledger amounts.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	receiptConstraint     = "donations_receipt_number_key"
)

const donationColumns = `
	id, donor_id, campaign_id, donor_email, donor_name, message, amount,
	payment_status, payment_method, order_id, payment_id, payment_signature, settled_at,
	receipt_number, transaction_fee, net_amount,
	ip_address, fraud_score, risk_level, is_suspicious, suspicious_reason,
	donation_count_from_ip, donation_count_from_donor, time_since_last_donation,
	amount_anomaly, velocity_check,
	admin_verified, admin_rejected, rejection_reason, payment_received, payment_received_at, review_notes,
	refund_amount, refund_reason, refunded_at, refunded_by,
	counted_in_raised, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonation(row rowScanner) (*domain.Donation, error) {
	var (
		d            domain.Donation
		status       string
		riskLevel    string
		paymentID    *string
		signature    *string
		settledAt    *time.Time
		refundAmount decimal.NullDecimal
		refundReason *string
		refundedAt   *time.Time
		refundedBy   *uuid.UUID
	)
	err := row.Scan(
		&d.ID, &d.DonorID, &d.CampaignID, &d.DonorEmail, &d.DonorName, &d.Message, &d.Amount,
		&status, &d.PaymentMethod, &d.OrderID, &paymentID, &signature, &settledAt,
		&d.ReceiptNumber, &d.TransactionFee, &d.NetAmount,
		&d.Fraud.IPAddress, &d.Fraud.FraudScore, &riskLevel, &d.Fraud.IsSuspicious, &d.Fraud.SuspiciousReason,
		&d.Fraud.DonationCountFromIP, &d.Fraud.DonationCountFromDonor, &d.Fraud.TimeSinceLastDonation,
		&d.Fraud.AmountAnomaly, &d.Fraud.VelocityCheck,
		&d.Review.AdminVerified, &d.Review.AdminRejected, &d.Review.RejectionReason,
		&d.Review.PaymentReceived, &d.Review.PaymentReceivedAt, &d.Review.ReviewNotes,
		&refundAmount, &refundReason, &refundedAt, &refundedBy,
		&d.CountedInRaised, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.PaymentStatus = domain.PaymentStatus(status)
	d.Fraud.RiskLevel = domain.RiskLevel(riskLevel)
	if paymentID != nil && settledAt != nil {
		d.Settlement = &domain.SettlementDetails{
			PaymentID: *paymentID,
			Method:    d.PaymentMethod,
			SettledAt: *settledAt,
		}
		if signature != nil {
			d.Settlement.Signature = *signature
		}
	}
	if refundedAt != nil {
		d.Refund = &domain.RefundDetails{RefundedAt: *refundedAt}
		if refundAmount.Valid {
			d.Refund.Amount = refundAmount.Decimal
		}
		if refundReason != nil {
			d.Refund.Reason = *refundReason
		}
		if refundedBy != nil {
			d.Refund.RefundedBy = *refundedBy
		}
	}
	return &d, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// actorPredicate maps an actor key onto the donations column it filters by.
func actorPredicate(key domain.ActorKey) (string, any, error) {
	switch key.Kind {
	case domain.ActorKindDonor:
		donorID, err := uuid.Parse(key.Value)
		if err != nil {
			return "", nil, fmt.Errorf("invalid donor key %q: %w", key.Value, err)
		}
		return "donor_id = $1", donorID, nil
	case domain.ActorKindEmail:
		return "lower(donor_email) = $1", domain.NormalizeEmail(key.Value), nil
	case domain.ActorKindIP:
		return "ip_address = $1", key.Value, nil
	}
	return "", nil, fmt.Errorf("unsupported actor kind %q", key.Kind)
}

// FindUserIDByAuthSubject resolves the internal UUID from the identity provider subject.
func (r *PostgresRepository) FindUserIDByAuthSubject(ctx context.Context, subject string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE auth_subject = $1", subject).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// FindUserByID retrieves a user's donation aggregates.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT id, auth_subject, email, full_name, total_donated, total_donations, last_donation_at
		FROM users
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&user.ID, &user.AuthSubject, &user.Email, &user.FullName,
		&user.TotalDonated, &user.TotalDonations, &user.LastDonationAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ApplyDonorStats folds a settled donation into its donor's aggregates exactly once.
// It returns false when there is nothing to apply.
func (r *PostgresRepository) ApplyDonorStats(ctx context.Context, donationID uuid.UUID) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var (
		donorID   uuid.UUID
		amount    int64
		donatedAt time.Time
	)
	err = tx.QueryRow(ctx, `
		UPDATE donations
		SET donor_stats_applied = TRUE, updated_at = NOW()
		WHERE id = $1
		  AND donor_id IS NOT NULL
		  AND payment_status = 'success'
		  AND donor_stats_applied = FALSE
		RETURNING donor_id, amount, COALESCE(settled_at, payment_received_at, updated_at)
	`, donationID).Scan(&donorID, &amount, &donatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET total_donated = total_donated + $1,
		    total_donations = total_donations + 1,
		    last_donation_at = GREATEST(COALESCE(last_donation_at, $2), $2),
		    updated_at = NOW()
		WHERE id = $3
	`, amount, donatedAt, donorID)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// FindCampaignByID returns the campaign totals used by the order gate.
func (r *PostgresRepository) FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	var c domain.Campaign
	query := `
		SELECT id, owner_id, title, goal_amount, raised_amount, contributors, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, campaignID).Scan(
		&c.ID, &c.OwnerID, &c.Title, &c.GoalAmount, &c.RaisedAmount, &c.Contributors, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return &c, nil
}

const insertDonationQuery = `
	INSERT INTO donations (
		id, donor_id, campaign_id, donor_email, donor_name, message, amount,
		payment_status, payment_method, order_id, receipt_number, transaction_fee, net_amount,
		ip_address, fraud_score, risk_level, is_suspicious, suspicious_reason,
		donation_count_from_ip, donation_count_from_donor, time_since_last_donation,
		amount_anomaly, velocity_check, counted_in_raised, created_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
`

func insertDonationArgs(d *domain.Donation) []any {
	return []any{
		d.ID, d.DonorID, d.CampaignID, d.DonorEmail, d.DonorName, d.Message, d.Amount,
		string(d.PaymentStatus), d.PaymentMethod, d.OrderID, d.ReceiptNumber, d.TransactionFee, d.NetAmount,
		d.Fraud.IPAddress, d.Fraud.FraudScore, string(d.Fraud.RiskLevel), d.Fraud.IsSuspicious, d.Fraud.SuspiciousReason,
		d.Fraud.DonationCountFromIP, d.Fraud.DonationCountFromDonor, d.Fraud.TimeSinceLastDonation,
		d.Fraud.AmountAnomaly, d.Fraud.VelocityCheck, d.CountedInRaised, d.CreatedAt, d.UpdatedAt,
	}
}

func mapInsertDonationError(err error) error {
	switch {
	case isUniqueViolation(err, receiptConstraint):
		return ErrDuplicateReceipt
	case isForeignKeyViolation(err):
		return ErrCampaignNotFound
	}
	return err
}

// CreateDonation inserts a provisional gateway donation.
func (r *PostgresRepository) CreateDonation(ctx context.Context, donation *domain.Donation) error {
	if _, err := r.db.Exec(ctx, insertDonationQuery, insertDonationArgs(donation)...); err != nil {
		return mapInsertDonationError(err)
	}
	return nil
}

// CreateCommitment inserts a pledge and counts it against the campaign in one transaction.
func (r *PostgresRepository) CreateCommitment(ctx context.Context, donation *domain.Donation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	donation.CountedInRaised = true
	if _, err := tx.Exec(ctx, insertDonationQuery, insertDonationArgs(donation)...); err != nil {
		donation.CountedInRaised = false
		return mapInsertDonationError(err)
	}

	cmd, err := tx.Exec(ctx, `
		UPDATE campaigns
		SET raised_amount = raised_amount + $1, contributors = contributors + 1, updated_at = NOW()
		WHERE id = $2
	`, donation.Amount, donation.CampaignID)
	if err != nil {
		donation.CountedInRaised = false
		return err
	}
	if cmd.RowsAffected() == 0 {
		donation.CountedInRaised = false
		return ErrCampaignNotFound
	}
	return tx.Commit(ctx)
}

// AttachOrderID stores the gateway order id on a pending donation.
func (r *PostgresRepository) AttachOrderID(ctx context.Context, donationID uuid.UUID, orderID string) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE donations
		SET order_id = $2, updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending' AND order_id IS NULL
	`, donationID, orderID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// DeletePendingDonation removes a provisional donation that never reached the gateway.
func (r *PostgresRepository) DeletePendingDonation(ctx context.Context, donationID uuid.UUID) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		DELETE FROM donations
		WHERE id = $1 AND payment_status = 'pending' AND payment_id IS NULL AND counted_in_raised = FALSE
	`, donationID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// FindDonationByID retrieves a single donation.
func (r *PostgresRepository) FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error) {
	row := r.db.QueryRow(ctx, "SELECT "+donationColumns+" FROM donations WHERE id = $1", donationID)
	d, err := scanDonation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDonationsByDonor returns a donor's donations, newest first.
func (r *PostgresRepository) ListDonationsByDonor(ctx context.Context, donorID uuid.UUID, limit int, offset int) ([]domain.Donation, error) {
	rows, err := r.db.Query(ctx, "SELECT "+donationColumns+`
		FROM donations
		WHERE donor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, donorID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectDonations(rows)
}

func collectDonations(rows pgx.Rows) ([]domain.Donation, error) {
	defer rows.Close()
	donations := make([]domain.Donation, 0)
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, *d)
	}
	return donations, rows.Err()
}

// SettleDonation moves a donation to success and counts it against the campaign.
// The status change is conditional, so concurrent callers settle it at most once;
// false means another caller got there first or the donation is not settleable.
func (r *PostgresRepository) SettleDonation(ctx context.Context, params SettleDonationParams) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var (
		campaignID uuid.UUID
		amount     int64
	)
	err = tx.QueryRow(ctx, `
		UPDATE donations
		SET payment_status = 'success',
		    payment_id = $2,
		    payment_signature = $3,
		    payment_method = $4,
		    settled_at = $5,
		    counted_in_raised = TRUE,
		    updated_at = $5
		WHERE id = $1
		  AND order_id = $6
		  AND payment_status IN ('pending', 'processing')
		RETURNING campaign_id, amount
	`,
		params.DonationID,
		params.Settlement.PaymentID,
		params.Settlement.Signature,
		params.Settlement.Method,
		params.Settlement.SettledAt,
		params.OrderID,
	).Scan(&campaignID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE campaigns
		SET raised_amount = raised_amount + $1, contributors = contributors + 1, updated_at = NOW()
		WHERE id = $2
	`, amount, campaignID); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyAdminReview persists an admin review with its audit entry. When the review
// reverses a counted pledge the campaign totals are decremented exactly once.
func (r *PostgresRepository) ApplyAdminReview(ctx context.Context, params AdminReviewParams) (*domain.Donation, error) {
	d := params.Donation
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `
		UPDATE donations
		SET payment_status = $2,
		    admin_verified = $3,
		    admin_rejected = $4,
		    rejection_reason = $5,
		    payment_received = $6,
		    payment_received_at = $7,
		    review_notes = $8,
		    updated_at = $9
		WHERE id = $1 AND payment_status = $10
	`,
		d.ID,
		string(d.PaymentStatus),
		d.Review.AdminVerified,
		d.Review.AdminRejected,
		d.Review.RejectionReason,
		d.Review.PaymentReceived,
		d.Review.PaymentReceivedAt,
		d.Review.ReviewNotes,
		d.UpdatedAt,
		string(params.Expected),
	)
	if err != nil {
		return nil, err
	}
	if cmd.RowsAffected() == 0 {
		return nil, ErrConcurrentUpdate
	}

	if err := insertAdminAction(ctx, tx, params.Action); err != nil {
		return nil, err
	}

	if params.Adjustment == RaisedReverse {
		if err := reverseRaised(ctx, tx, d.ID); err != nil {
			return nil, err
		}
		d.CountedInRaised = false
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func insertAdminAction(ctx context.Context, tx pgx.Tx, action domain.AdminAction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO donation_admin_actions (id, donation_id, admin_id, action, message, from_status, to_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		action.ID,
		action.DonationID,
		action.AdminID,
		action.Action,
		action.Message,
		string(action.FromStatus),
		string(action.ToStatus),
		action.CreatedAt,
	)
	return err
}

// reverseRaised subtracts a counted donation from its campaign. It is a no-op when the
// donation was never counted or has already been reversed.
func reverseRaised(ctx context.Context, tx pgx.Tx, donationID uuid.UUID) error {
	var (
		campaignID uuid.UUID
		amount     int64
	)
	err := tx.QueryRow(ctx, `
		UPDATE donations
		SET counted_in_raised = FALSE
		WHERE id = $1 AND counted_in_raised = TRUE
		RETURNING campaign_id, amount
	`, donationID).Scan(&campaignID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE campaigns
		SET raised_amount = GREATEST(raised_amount - $1, 0),
		    contributors = GREATEST(contributors - 1, 0),
		    updated_at = NOW()
		WHERE id = $2
	`, amount, campaignID)
	return err
}

// ListAdminActions returns a donation's audit trail, oldest first.
func (r *PostgresRepository) ListAdminActions(ctx context.Context, donationID uuid.UUID) ([]domain.AdminAction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, donation_id, admin_id, action, message, from_status, to_status, created_at
		FROM donation_admin_actions
		WHERE donation_id = $1
		ORDER BY created_at ASC
	`, donationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := make([]domain.AdminAction, 0)
	for rows.Next() {
		var (
			a          domain.AdminAction
			fromStatus string
			toStatus   string
		)
		if err := rows.Scan(&a.ID, &a.DonationID, &a.AdminID, &a.Action, &a.Message, &fromStatus, &toStatus, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.FromStatus = domain.PaymentStatus(fromStatus)
		a.ToStatus = domain.PaymentStatus(toStatus)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ListUncreditedSettlements finds settled donations that have no wallet credit yet.
// Pledges qualify only once their payment has been marked received.
func (r *PostgresRepository) ListUncreditedSettlements(ctx context.Context, limit int) ([]domain.Donation, error) {
	rows, err := r.db.Query(ctx, "SELECT "+donationColumns+`
		FROM donations d
		WHERE d.payment_status = 'success'
		  AND (d.payment_method <> 'commitment' OR d.payment_received)
		  AND NOT EXISTS (
		      SELECT 1 FROM wallet_transactions wt
		      WHERE wt.donation_id = d.id AND wt.type = 'credit'
		  )
		ORDER BY d.updated_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectDonations(rows)
}

// ListPendingDonorStats finds settled donations whose donor aggregates were not applied.
func (r *PostgresRepository) ListPendingDonorStats(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id
		FROM donations
		WHERE payment_status = 'success' AND donor_id IS NOT NULL AND donor_stats_applied = FALSE
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountDonationsSince counts an actor's donation records created at or after since.
func (r *PostgresRepository) CountDonationsSince(ctx context.Context, key domain.ActorKey, since time.Time) (int, error) {
	predicate, value, err := actorPredicate(key)
	if err != nil {
		return 0, err
	}
	var count int
	err = r.db.QueryRow(ctx, "SELECT COUNT(*) FROM donations WHERE "+predicate+" AND created_at >= $2", value, since).Scan(&count)
	return count, err
}

// HasDonationWithAmountSince reports whether the actor already donated this exact amount.
func (r *PostgresRepository) HasDonationWithAmountSince(ctx context.Context, key domain.ActorKey, amount int64, since time.Time) (bool, error) {
	predicate, value, err := actorPredicate(key)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM donations WHERE "+predicate+" AND amount = $2 AND created_at >= $3)",
		value, amount, since,
	).Scan(&exists)
	return exists, err
}

// AverageDonationAmount is the campaign's historical mean over live donations.
func (r *PostgresRepository) AverageDonationAmount(ctx context.Context, campaignID uuid.UUID) (decimal.Decimal, error) {
	var avg decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(AVG(amount), 0)
		FROM donations
		WHERE campaign_id = $1 AND payment_status NOT IN ('failed', 'cancelled')
	`, campaignID).Scan(&avg)
	return avg, err
}

// LastDonationAt returns the creation time of the actor's most recent donation record.
func (r *PostgresRepository) LastDonationAt(ctx context.Context, key domain.ActorKey) (*time.Time, error) {
	predicate, value, err := actorPredicate(key)
	if err != nil {
		return nil, err
	}
	var last *time.Time
	err = r.db.QueryRow(ctx, "SELECT MAX(created_at) FROM donations WHERE "+predicate, value).Scan(&last)
	return last, err
}
