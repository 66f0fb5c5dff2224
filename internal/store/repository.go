/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the donation-service performs. Business logic in internal/app depends only
 * on this interface; the PostgreSQL implementation lives next to it.
 *
 * @notes
 * - Every method that moves money or campaign totals is a single database transaction
 *   guarded by a row lock or a conditional UPDATE. Callers never read-modify-write.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrDonationNotFound    = errors.New("donation not found")
	ErrDuplicateReceipt    = errors.New("receipt number already exists")
	ErrWalletNotFound      = errors.New("campaign wallet not found")
	ErrWithdrawalNotFound  = errors.New("withdrawal request not found")
	ErrConcurrentUpdate    = errors.New("record was modified concurrently")
	ErrDonationNotCredited = errors.New("donation has no wallet credit to reverse")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	FindUserIDByAuthSubject(ctx context.Context, subject string) (uuid.UUID, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	ApplyDonorStats(ctx context.Context, donationID uuid.UUID) (bool, error)

	// Campaign methods
	FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error)

	// Donation methods
	CreateDonation(ctx context.Context, donation *domain.Donation) error
	CreateCommitment(ctx context.Context, donation *domain.Donation) error
	AttachOrderID(ctx context.Context, donationID uuid.UUID, orderID string) error
	DeletePendingDonation(ctx context.Context, donationID uuid.UUID) (bool, error)
	FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error)
	ListDonationsByDonor(ctx context.Context, donorID uuid.UUID, limit int, offset int) ([]domain.Donation, error)
	SettleDonation(ctx context.Context, params SettleDonationParams) (bool, error)
	ApplyAdminReview(ctx context.Context, params AdminReviewParams) (*domain.Donation, error)
	RefundDonation(ctx context.Context, params RefundDonationParams) (*domain.Donation, *domain.WalletTransaction, error)
	ListAdminActions(ctx context.Context, donationID uuid.UUID) ([]domain.AdminAction, error)
	ListUncreditedSettlements(ctx context.Context, limit int) ([]domain.Donation, error)
	ListPendingDonorStats(ctx context.Context, limit int) ([]uuid.UUID, error)

	// Fraud signal methods
	CountDonationsSince(ctx context.Context, key domain.ActorKey, since time.Time) (int, error)
	HasDonationWithAmountSince(ctx context.Context, key domain.ActorKey, amount int64, since time.Time) (bool, error)
	AverageDonationAmount(ctx context.Context, campaignID uuid.UUID) (decimal.Decimal, error)
	LastDonationAt(ctx context.Context, key domain.ActorKey) (*time.Time, error)

	// Wallet methods
	AddFunds(ctx context.Context, params LedgerEntryParams) (*domain.WalletTransaction, bool, error)
	FindWalletByCampaignID(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignWallet, error)
	ListWalletTransactions(ctx context.Context, campaignID uuid.UUID, limit int, offset int) ([]domain.WalletTransaction, error)
	LoadWalletLedger(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignWallet, []domain.WalletTransaction, error)
	ListWalletCampaignIDs(ctx context.Context) ([]uuid.UUID, error)

	// Withdrawal methods
	CreateWithdrawalRequest(ctx context.Context, request *domain.WithdrawalRequest) error
	FindWithdrawalByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error)
	ListWithdrawalsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.WithdrawalRequest, error)
	UpdateWithdrawalReview(ctx context.Context, request *domain.WithdrawalRequest, expected domain.WithdrawalStatus) error
	ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID, now time.Time) (*domain.WithdrawalRequest, *domain.WalletTransaction, error)
}

// SettleDonationParams carries everything needed to move a donation to success.
type SettleDonationParams struct {
	DonationID uuid.UUID
	OrderID    string
	Settlement domain.SettlementDetails
}

// RaisedAdjustment describes how an admin review changes the campaign totals.
type RaisedAdjustment int

const (
	RaisedUnchanged RaisedAdjustment = iota
	RaisedReverse
)

// AdminReviewParams persists an admin review. Expected guards against a concurrent
// status change between the read and the write.
type AdminReviewParams struct {
	Donation   *domain.Donation
	Expected   domain.PaymentStatus
	Action     domain.AdminAction
	Adjustment RaisedAdjustment
}

// RefundDonationParams carries a full refund of a settled donation.
type RefundDonationParams struct {
	DonationID  uuid.UUID
	Refund      domain.RefundDetails
	Action      domain.AdminAction
	Description string
}

// LedgerEntryParams describes one wallet mutation.
type LedgerEntryParams struct {
	CampaignID  uuid.UUID
	Amount      decimal.Decimal
	DonationID  *uuid.UUID
	Description string
	Now         time.Time
}
