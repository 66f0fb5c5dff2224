package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the lifecycle state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalProcessed WithdrawalStatus = "processed"
)

var ErrInvalidWithdrawalTransition = errors.New("invalid withdrawal status transition")

// WithdrawalRequest maps to the `withdrawal_requests` table.
type WithdrawalRequest struct {
	ID              uuid.UUID        `json:"id"`
	CampaignID      uuid.UUID        `json:"campaign_id"`
	RequestedBy     uuid.UUID        `json:"requested_by"`
	Amount          decimal.Decimal  `json:"amount"`
	Note            string           `json:"note,omitempty"`
	Status          WithdrawalStatus `json:"status"`
	RejectionReason *string          `json:"rejection_reason,omitempty"`
	ReviewedBy      *uuid.UUID       `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty"`
	ProcessedAt     *time.Time       `json:"processed_at,omitempty"`
	TransactionID   *uuid.UUID       `json:"transaction_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewWithdrawalRequest creates a pending request from a campaign owner.
func NewWithdrawalRequest(campaignID, ownerID uuid.UUID, amount decimal.Decimal, note string, now time.Time) (*WithdrawalRequest, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidLedgerAmount
	}
	return &WithdrawalRequest{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		RequestedBy: ownerID,
		Amount:      amount,
		Note:        strings.TrimSpace(note),
		Status:      WithdrawalPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Approve moves a pending request to approved.
func (r *WithdrawalRequest) Approve(adminID uuid.UUID, now time.Time) error {
	if r.Status != WithdrawalPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidWithdrawalTransition, r.Status, WithdrawalApproved)
	}
	r.Status = WithdrawalApproved
	r.ReviewedBy = &adminID
	r.ReviewedAt = &now
	r.UpdatedAt = now
	return nil
}

// Reject moves a pending request to rejected. A reason is mandatory.
func (r *WithdrawalRequest) Reject(adminID uuid.UUID, reason string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrRejectionReason
	}
	if r.Status != WithdrawalPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidWithdrawalTransition, r.Status, WithdrawalRejected)
	}
	r.Status = WithdrawalRejected
	r.RejectionReason = &reason
	r.ReviewedBy = &adminID
	r.ReviewedAt = &now
	r.UpdatedAt = now
	return nil
}

// MarkProcessed records that the funds left the wallet. Terminal.
func (r *WithdrawalRequest) MarkProcessed(transactionID uuid.UUID, now time.Time) error {
	if r.Status != WithdrawalApproved {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidWithdrawalTransition, r.Status, WithdrawalProcessed)
	}
	r.Status = WithdrawalProcessed
	r.TransactionID = &transactionID
	r.ProcessedAt = &now
	r.UpdatedAt = now
	return nil
}
