package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, campaign_id, balance, total_received, total_withdrawn, total_refunded, version, created_at, updated_at`

const walletTransactionColumns = `id, wallet_id, campaign_id, type, amount, balance_after, donation_id, withdrawal_id, description, created_at`

const withdrawalColumns = `
	id, campaign_id, requested_by, amount, note, status, rejection_reason,
	reviewed_by, reviewed_at, processed_at, transaction_id, created_at, updated_at`

func scanWallet(row rowScanner) (*domain.CampaignWallet, error) {
	var w domain.CampaignWallet
	err := row.Scan(&w.ID, &w.CampaignID, &w.Balance, &w.TotalReceived, &w.TotalWithdrawn, &w.TotalRefunded, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanWalletTransaction(row rowScanner) (*domain.WalletTransaction, error) {
	var (
		t         domain.WalletTransaction
		entryType string
	)
	err := row.Scan(&t.ID, &t.WalletID, &t.CampaignID, &entryType, &t.Amount, &t.BalanceAfter, &t.DonationID, &t.WithdrawalID, &t.Description, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = domain.LedgerEntryType(entryType)
	return &t, nil
}

func scanWithdrawal(row rowScanner) (*domain.WithdrawalRequest, error) {
	var (
		w      domain.WithdrawalRequest
		status string
	)
	err := row.Scan(
		&w.ID, &w.CampaignID, &w.RequestedBy, &w.Amount, &w.Note, &status, &w.RejectionReason,
		&w.ReviewedBy, &w.ReviewedAt, &w.ProcessedAt, &w.TransactionID, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Status = domain.WithdrawalStatus(status)
	return &w, nil
}

// lockWallet takes the row lock on a campaign's wallet for the rest of tx. With
// create set, a missing wallet is created first.
func lockWallet(ctx context.Context, tx pgx.Tx, campaignID uuid.UUID, create bool, now time.Time) (*domain.CampaignWallet, error) {
	if create {
		fresh := domain.NewCampaignWallet(campaignID, now)
		_, err := tx.Exec(ctx, `
			INSERT INTO campaign_wallets (id, campaign_id, balance, total_received, total_withdrawn, total_refunded, version, created_at, updated_at)
			VALUES ($1, $2, 0, 0, 0, 0, 0, $3, $3)
			ON CONFLICT (campaign_id) DO NOTHING
		`, fresh.ID, campaignID, now)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, ErrCampaignNotFound
			}
			return nil, err
		}
	}

	// Use FOR UPDATE to serialize every mutation of this wallet.
	wallet, err := scanWallet(tx.QueryRow(ctx, "SELECT "+walletColumns+" FROM campaign_wallets WHERE campaign_id = $1 FOR UPDATE", campaignID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// persistWalletEntry writes the mutated wallet and its new ledger entry.
func persistWalletEntry(ctx context.Context, tx pgx.Tx, wallet *domain.CampaignWallet, entry domain.WalletTransaction) error {
	cmd, err := tx.Exec(ctx, `
		UPDATE campaign_wallets
		SET balance = $2,
		    total_received = $3,
		    total_withdrawn = $4,
		    total_refunded = $5,
		    version = $6,
		    updated_at = $7
		WHERE id = $1 AND version = $8
	`,
		wallet.ID,
		wallet.Balance,
		wallet.TotalReceived,
		wallet.TotalWithdrawn,
		wallet.TotalRefunded,
		wallet.Version,
		wallet.UpdatedAt,
		wallet.Version-1,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, campaign_id, type, amount, balance_after, donation_id, withdrawal_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID,
		entry.WalletID,
		entry.CampaignID,
		string(entry.Type),
		entry.Amount,
		entry.BalanceAfter,
		entry.DonationID,
		entry.WithdrawalID,
		entry.Description,
		entry.CreatedAt,
	)
	return err
}

func findDonationCredit(ctx context.Context, tx pgx.Tx, donationID uuid.UUID) (*domain.WalletTransaction, error) {
	entry, err := scanWalletTransaction(tx.QueryRow(ctx,
		"SELECT "+walletTransactionColumns+" FROM wallet_transactions WHERE donation_id = $1 AND type = 'credit'",
		donationID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// AddFunds credits a campaign wallet, creating it on first use. A credit tied to a
// donation is applied at most once; a repeat returns the original entry and false.
func (r *PostgresRepository) AddFunds(ctx context.Context, params LedgerEntryParams) (*domain.WalletTransaction, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	wallet, err := lockWallet(ctx, tx, params.CampaignID, true, params.Now)
	if err != nil {
		return nil, false, err
	}

	if params.DonationID != nil {
		existing, err := findDonationCredit(ctx, tx, *params.DonationID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	entry, err := wallet.AddFunds(params.Amount, params.DonationID, params.Description, params.Now)
	if err != nil {
		return nil, false, err
	}
	if err := persistWalletEntry(ctx, tx, wallet, entry); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

// debitWalletTx locks the campaign wallet inside tx, applies a debit and persists the
// new balance with its ledger entry. A failed debit writes nothing.
func debitWalletTx(ctx context.Context, tx pgx.Tx, campaignID uuid.UUID, now time.Time, apply func(*domain.CampaignWallet) (domain.WalletTransaction, error)) (domain.WalletTransaction, error) {
	wallet, err := lockWallet(ctx, tx, campaignID, false, now)
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	entry, err := apply(wallet)
	if err != nil {
		return domain.WalletTransaction{}, err
	}
	if err := persistWalletEntry(ctx, tx, wallet, entry); err != nil {
		return domain.WalletTransaction{}, err
	}
	return entry, nil
}

// RefundDonation reverses a settled donation in one transaction. The wallet is debited
// by the credited net amount and the donation moves to refunded, after which the
// campaign and donor aggregates are decremented. Any failure leaves every row untouched.
func (r *PostgresRepository) RefundDonation(ctx context.Context, params RefundDonationParams) (*domain.Donation, *domain.WalletTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	donation, err := scanDonation(tx.QueryRow(ctx, "SELECT "+donationColumns+" FROM donations WHERE id = $1 FOR UPDATE", params.DonationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrDonationNotFound
		}
		return nil, nil, err
	}
	if donation.PaymentStatus != domain.PaymentStatusSuccess {
		return nil, nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, donation.PaymentStatus, domain.PaymentStatusRefunded)
	}

	credit, err := findDonationCredit(ctx, tx, donation.ID)
	if err != nil {
		return nil, nil, err
	}
	if credit == nil {
		return nil, nil, ErrDonationNotCredited
	}
	// Refunds always return exactly what was credited.
	params.Refund.Amount = credit.Amount
	if err := donation.MarkRefunded(params.Refund); err != nil {
		return nil, nil, err
	}

	entry, err := debitWalletTx(ctx, tx, donation.CampaignID, params.Refund.RefundedAt, func(w *domain.CampaignWallet) (domain.WalletTransaction, error) {
		return w.Refund(params.Refund.Amount, &donation.ID, params.Description, params.Refund.RefundedAt)
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		donorID           *uuid.UUID
		donorStatsApplied bool
	)
	err = tx.QueryRow(ctx, `
		UPDATE donations
		SET payment_status = 'refunded',
		    refund_amount = $2,
		    refund_reason = $3,
		    refunded_at = $4,
		    refunded_by = $5,
		    updated_at = $4
		WHERE id = $1
		RETURNING donor_id, donor_stats_applied
	`,
		donation.ID,
		params.Refund.Amount,
		params.Refund.Reason,
		params.Refund.RefundedAt,
		params.Refund.RefundedBy,
	).Scan(&donorID, &donorStatsApplied)
	if err != nil {
		return nil, nil, err
	}

	if err := reverseRaised(ctx, tx, donation.ID); err != nil {
		return nil, nil, err
	}
	donation.CountedInRaised = false

	if donorID != nil && donorStatsApplied {
		if _, err := tx.Exec(ctx, `
			UPDATE users
			SET total_donated = GREATEST(total_donated - $1, 0),
			    total_donations = GREATEST(total_donations - 1, 0),
			    updated_at = NOW()
			WHERE id = $2
		`, donation.Amount, *donorID); err != nil {
			return nil, nil, err
		}
	}

	if err := insertAdminAction(ctx, tx, params.Action); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return donation, &entry, nil
}

// FindWalletByCampaignID returns a campaign's wallet.
func (r *PostgresRepository) FindWalletByCampaignID(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignWallet, error) {
	wallet, err := scanWallet(r.db.QueryRow(ctx, "SELECT "+walletColumns+" FROM campaign_wallets WHERE campaign_id = $1", campaignID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// ListWalletTransactions returns a page of a wallet's ledger, newest first.
func (r *PostgresRepository) ListWalletTransactions(ctx context.Context, campaignID uuid.UUID, limit int, offset int) ([]domain.WalletTransaction, error) {
	rows, err := r.db.Query(ctx, "SELECT "+walletTransactionColumns+`
		FROM wallet_transactions
		WHERE campaign_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectWalletTransactions(rows)
}

func collectWalletTransactions(rows pgx.Rows) ([]domain.WalletTransaction, error) {
	defer rows.Close()
	entries := make([]domain.WalletTransaction, 0)
	for rows.Next() {
		entry, err := scanWalletTransaction(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// LoadWalletLedger reads a wallet and its full ledger from one consistent snapshot.
func (r *PostgresRepository) LoadWalletLedger(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignWallet, []domain.WalletTransaction, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	wallet, err := scanWallet(tx.QueryRow(ctx, "SELECT "+walletColumns+" FROM campaign_wallets WHERE campaign_id = $1", campaignID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrWalletNotFound
		}
		return nil, nil, err
	}
	rows, err := tx.Query(ctx, "SELECT "+walletTransactionColumns+" FROM wallet_transactions WHERE wallet_id = $1 ORDER BY seq ASC", wallet.ID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := collectWalletTransactions(rows)
	if err != nil {
		return nil, nil, err
	}
	return wallet, entries, tx.Commit(ctx)
}

// ListWalletCampaignIDs returns every campaign that has a wallet.
func (r *PostgresRepository) ListWalletCampaignIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, "SELECT campaign_id FROM campaign_wallets ORDER BY created_at ASC")
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

// CreateWithdrawalRequest inserts a pending withdrawal request.
func (r *PostgresRepository) CreateWithdrawalRequest(ctx context.Context, request *domain.WithdrawalRequest) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO withdrawal_requests (id, campaign_id, requested_by, amount, note, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		request.ID,
		request.CampaignID,
		request.RequestedBy,
		request.Amount,
		request.Note,
		string(request.Status),
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil && isForeignKeyViolation(err) {
		return ErrCampaignNotFound
	}
	return err
}

// FindWithdrawalByID retrieves a withdrawal request.
func (r *PostgresRepository) FindWithdrawalByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error) {
	request, err := scanWithdrawal(r.db.QueryRow(ctx, "SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE id = $1", withdrawalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return request, nil
}

// ListWithdrawalsByCampaign returns a campaign's withdrawal requests, newest first.
func (r *PostgresRepository) ListWithdrawalsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.WithdrawalRequest, error) {
	rows, err := r.db.Query(ctx, "SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE campaign_id = $1 ORDER BY created_at DESC", campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]domain.WithdrawalRequest, 0)
	for rows.Next() {
		request, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *request)
	}
	return requests, rows.Err()
}

// UpdateWithdrawalReview persists an approval or rejection if the request is still in
// the expected status.
func (r *PostgresRepository) UpdateWithdrawalReview(ctx context.Context, request *domain.WithdrawalRequest, expected domain.WithdrawalStatus) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, rejection_reason = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $6
		WHERE id = $1 AND status = $7
	`,
		request.ID,
		string(request.Status),
		request.RejectionReason,
		request.ReviewedBy,
		request.ReviewedAt,
		request.UpdatedAt,
		string(expected),
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// ProcessWithdrawal pays out an approved request: the wallet debit and the terminal
// status change commit together or not at all.
func (r *PostgresRepository) ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID, now time.Time) (*domain.WithdrawalRequest, *domain.WalletTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	request, err := scanWithdrawal(tx.QueryRow(ctx, "SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE id = $1 FOR UPDATE", withdrawalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrWithdrawalNotFound
		}
		return nil, nil, err
	}
	if request.Status != domain.WithdrawalApproved {
		return nil, nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidWithdrawalTransition, request.Status, domain.WithdrawalProcessed)
	}

	entry, err := debitWalletTx(ctx, tx, request.CampaignID, now, func(w *domain.CampaignWallet) (domain.WalletTransaction, error) {
		return w.WithdrawFunds(request.Amount, &request.ID, fmt.Sprintf("Withdrawal %s", request.ID), now)
	})
	if err != nil {
		return nil, nil, err
	}
	if err := request.MarkProcessed(entry.ID, now); err != nil {
		return nil, nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, processed_at = $3, transaction_id = $4, updated_at = $3
		WHERE id = $1
	`, request.ID, string(request.Status), now, entry.ID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return request, &entry, nil
}
