package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventDonationCommitted = "donation.committed"
	EventDonationSettled   = "donation.settled"
	EventDonationApproved  = "donation.approved"
	EventDonationRejected  = "donation.rejected"
	EventDonationRefunded  = "donation.refunded"
)

// DonationEvent is published to the events exchange after a donation changes state.
// Consumers such as the notification service send thank-you messages from it.
type DonationEvent struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	DonationID    uuid.UUID       `json:"donation_id"`
	CampaignID    uuid.UUID       `json:"campaign_id"`
	DonorID       *uuid.UUID      `json:"donor_id,omitempty"`
	DonorEmail    string          `json:"donor_email,omitempty"`
	DonorName     string          `json:"donor_name,omitempty"`
	Amount        int64           `json:"amount"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentMethod string          `json:"payment_method"`
	ReceiptNumber string          `json:"receipt_number"`
	Reason        string          `json:"reason,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewDonationEvent snapshots a donation into an event payload.
func NewDonationEvent(eventType string, d *Donation, reason string, now time.Time) DonationEvent {
	return DonationEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		DonationID:    d.ID,
		CampaignID:    d.CampaignID,
		DonorID:       d.DonorID,
		DonorEmail:    d.DonorEmail,
		DonorName:     d.DonorName,
		Amount:        d.Amount,
		NetAmount:     d.NetAmount,
		PaymentStatus: d.PaymentStatus,
		PaymentMethod: d.PaymentMethod,
		ReceiptNumber: d.ReceiptNumber,
		Reason:        reason,
		OccurredAt:    now,
	}
}

// WithdrawalEvent is published when a withdrawal request changes status.
type WithdrawalEvent struct {
	EventID      string           `json:"event_id"`
	EventType    string           `json:"event_type"`
	WithdrawalID uuid.UUID        `json:"withdrawal_id"`
	CampaignID   uuid.UUID        `json:"campaign_id"`
	RequestedBy  uuid.UUID        `json:"requested_by"`
	Amount       decimal.Decimal  `json:"amount"`
	Status       WithdrawalStatus `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// NewWithdrawalEvent snapshots a withdrawal request into an event payload typed
// after its status, e.g. withdrawal.processed.
func NewWithdrawalEvent(r *WithdrawalRequest, now time.Time) WithdrawalEvent {
	event := WithdrawalEvent{
		EventID:      uuid.NewString(),
		EventType:    "withdrawal." + string(r.Status),
		WithdrawalID: r.ID,
		CampaignID:   r.CampaignID,
		RequestedBy:  r.RequestedBy,
		Amount:       r.Amount,
		Status:       r.Status,
		OccurredAt:   now,
	}
	if r.RejectionReason != nil {
		event.Reason = *r.RejectionReason
	}
	return event
}
