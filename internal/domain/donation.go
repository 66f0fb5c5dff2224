/**
 * @description
 * This file defines the Donation Record, the unit of truth for a single contribution
 * attempt. A donation moves through a small state machine keyed by PaymentStatus and
 * only carries the detail blocks that are valid for its current state: settlement
 * details exist once a payment is captured, refund details exist only once refunded.
 *
 * @notes
 * - Amount is a whole number of currency units. Fee and net amount carry two decimals
 *   and use shopspring/decimal so rounding is never done in floating point.
 * - Once a donation reaches `success` its amount, net amount and order id are frozen;
 *   only the refund block may change afterwards.
 */

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a donation.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSuccess    PaymentStatus = "success"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// PaymentMethodCommitment tags pledge-only donations that never went through the gateway.
const PaymentMethodCommitment = "commitment"

const (
	MinDonationAmount int64 = 1
	MaxDonationAmount int64 = 1_000_000
)

var (
	ErrInvalidAmount        = errors.New("donation amount is out of range")
	ErrInvalidTransition    = errors.New("invalid payment status transition")
	ErrDonationImmutable    = errors.New("settled donation can no longer be modified")
	ErrRejectionReason      = errors.New("rejection reason is required")
	ErrInconsistentDonation = errors.New("donation fields are inconsistent with its payment status")
)

// allowedTransitions lists every legal PaymentStatus move.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusSuccess:    {PaymentStatusRefunded},
}

// ParsePaymentStatus validates a raw status string.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusSuccess,
		PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("unknown payment status %q", raw)
}

// CanTransition reports whether a donation may move from one status to another.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status change is possible, refunds aside.
func (s PaymentStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// SettlementDetails exists only for donations whose payment was captured.
type SettlementDetails struct {
	PaymentID string    `json:"payment_id"`
	Signature string    `json:"-"`
	Method    string    `json:"method"`
	SettledAt time.Time `json:"settled_at"`
}

// RefundDetails exists only for refunded donations.
type RefundDetails struct {
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	RefundedAt time.Time       `json:"refunded_at"`
	RefundedBy uuid.UUID       `json:"refunded_by"`
}

// FraudSnapshot records the signals that were evaluated when the donation was accepted.
type FraudSnapshot struct {
	IPAddress              string    `json:"ip_address"`
	FraudScore             int       `json:"fraud_score"`
	RiskLevel              RiskLevel `json:"risk_level"`
	IsSuspicious           bool      `json:"is_suspicious"`
	SuspiciousReason       string    `json:"suspicious_reason,omitempty"`
	DonationCountFromIP    int       `json:"donation_count_from_ip"`
	DonationCountFromDonor int       `json:"donation_count_from_donor"`
	TimeSinceLastDonation  int64     `json:"time_since_last_donation"`
	AmountAnomaly          bool      `json:"amount_anomaly"`
	VelocityCheck          bool      `json:"velocity_check"`
}

// ReviewState holds the admin review flags of a donation.
type ReviewState struct {
	AdminVerified     bool       `json:"admin_verified"`
	AdminRejected     bool       `json:"admin_rejected"`
	RejectionReason   *string    `json:"rejection_reason,omitempty"`
	PaymentReceived   bool       `json:"payment_received"`
	PaymentReceivedAt *time.Time `json:"payment_received_at,omitempty"`
	ReviewNotes       *string    `json:"review_notes,omitempty"`
}

// AdminAction is one append-only audit entry on a donation.
type AdminAction struct {
	ID         uuid.UUID     `json:"id"`
	DonationID uuid.UUID     `json:"donation_id"`
	AdminID    uuid.UUID     `json:"admin_id"`
	Action     string        `json:"action"`
	Message    string        `json:"message"`
	FromStatus PaymentStatus `json:"from_status"`
	ToStatus   PaymentStatus `json:"to_status"`
	CreatedAt  time.Time     `json:"created_at"`
}

const (
	AdminActionApprove      = "approve"
	AdminActionReject       = "reject"
	AdminActionStatusChange = "status_change"
	AdminActionReview       = "review"
	AdminActionRefund       = "refund"
)

// Donation maps to the `donations` table.
type Donation struct {
	ID              uuid.UUID          `json:"id"`
	DonorID         *uuid.UUID         `json:"donor_id,omitempty"`
	CampaignID      uuid.UUID          `json:"campaign_id"`
	DonorEmail      string             `json:"donor_email,omitempty"`
	DonorName       string             `json:"donor_name,omitempty"`
	Message         string             `json:"message,omitempty"`
	Amount          int64              `json:"amount"`
	PaymentStatus   PaymentStatus      `json:"payment_status"`
	PaymentMethod   string             `json:"payment_method"`
	OrderID         *string            `json:"order_id,omitempty"`
	ReceiptNumber   string             `json:"receipt_number"`
	TransactionFee  decimal.Decimal    `json:"transaction_fee"`
	NetAmount       decimal.Decimal    `json:"net_amount"`
	Fraud           FraudSnapshot      `json:"fraud"`
	Review          ReviewState        `json:"review"`
	Settlement      *SettlementDetails `json:"settlement,omitempty"`
	Refund          *RefundDetails     `json:"refund,omitempty"`
	CountedInRaised bool               `json:"-"`
	AdminActions    []AdminAction      `json:"admin_actions,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// IsCommitment reports whether this donation is a pledge rather than a gateway payment.
func (d *Donation) IsCommitment() bool {
	return d.PaymentMethod == PaymentMethodCommitment
}

// Refunded mirrors the legacy boolean flag.
func (d *Donation) Refunded() bool {
	return d.Refund != nil
}

// ValidateAmount enforces the accepted donation bounds.
func ValidateAmount(amount, min, max int64) error {
	if amount < min || amount > max {
		return fmt.Errorf("%w: must be between %d and %d", ErrInvalidAmount, min, max)
	}
	return nil
}

// ComputeFee returns the platform fee and net amount for a donation.
// The fee is rounded half-up to two decimals.
func ComputeFee(amount int64, feePercent decimal.Decimal) (fee decimal.Decimal, net decimal.Decimal) {
	gross := decimal.NewFromInt(amount)
	fee = gross.Mul(feePercent).Div(decimal.NewFromInt(100)).Round(2)
	return fee, gross.Sub(fee)
}

// Validate checks that only the detail blocks valid for the current status are present.
func (d *Donation) Validate() error {
	switch d.PaymentStatus {
	case PaymentStatusSuccess:
		if d.Refund != nil {
			return fmt.Errorf("%w: success donation carries refund details", ErrInconsistentDonation)
		}
		if d.Settlement == nil && !d.IsCommitment() {
			return fmt.Errorf("%w: success donation is missing settlement details", ErrInconsistentDonation)
		}
		if d.IsCommitment() && !d.Review.PaymentReceived {
			return fmt.Errorf("%w: settled pledge has no received payment", ErrInconsistentDonation)
		}
	case PaymentStatusRefunded:
		if d.Refund == nil {
			return fmt.Errorf("%w: refunded donation is missing refund details", ErrInconsistentDonation)
		}
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusFailed, PaymentStatusCancelled:
		if d.Settlement != nil {
			return fmt.Errorf("%w: %s donation carries settlement details", ErrInconsistentDonation, d.PaymentStatus)
		}
		if d.Refund != nil {
			return fmt.Errorf("%w: %s donation carries refund details", ErrInconsistentDonation, d.PaymentStatus)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInconsistentDonation, d.PaymentStatus)
	}
	if d.Review.AdminRejected && (d.Review.RejectionReason == nil || strings.TrimSpace(*d.Review.RejectionReason) == "") {
		return ErrRejectionReason
	}
	return nil
}

// MarkSettled moves a gateway donation to success.
func (d *Donation) MarkSettled(details SettlementDetails) error {
	if !CanTransition(d.PaymentStatus, PaymentStatusSuccess) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.PaymentStatus, PaymentStatusSuccess)
	}
	d.PaymentStatus = PaymentStatusSuccess
	d.PaymentMethod = details.Method
	d.Settlement = &details
	d.UpdatedAt = details.SettledAt
	return nil
}

// MarkRefunded moves a settled donation to refunded.
func (d *Donation) MarkRefunded(details RefundDetails) error {
	if d.PaymentStatus != PaymentStatusSuccess {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.PaymentStatus, PaymentStatusRefunded)
	}
	d.PaymentStatus = PaymentStatusRefunded
	d.Refund = &details
	d.UpdatedAt = details.RefundedAt
	return nil
}

// AdminUpdate is the admin review payload. Nil fields are left untouched.
type AdminUpdate struct {
	PaymentStatus   *PaymentStatus `json:"payment_status,omitempty"`
	PaymentReceived *bool          `json:"payment_received,omitempty"`
	AdminVerified   *bool          `json:"admin_verified,omitempty"`
	ReviewNotes     *string        `json:"review_notes,omitempty"`
	AdminRejected   *bool          `json:"admin_rejected,omitempty"`
	RejectionReason *string        `json:"rejection_reason,omitempty"`
}

// IsEmpty reports whether the update carries no changes.
func (u AdminUpdate) IsEmpty() bool {
	return u.PaymentStatus == nil && u.PaymentReceived == nil && u.AdminVerified == nil &&
		u.ReviewNotes == nil && u.AdminRejected == nil && u.RejectionReason == nil
}

// ApplyReview applies an admin update in place and returns the audit entry describing it.
// Gateway donations can only reach success through payment verification, and settled
// donations only accept review notes and refunds.
func (d *Donation) ApplyReview(update AdminUpdate, adminID uuid.UUID, now time.Time) (AdminAction, error) {
	from := d.PaymentStatus
	to := from

	if update.PaymentStatus != nil && *update.PaymentStatus != from {
		to = *update.PaymentStatus
		if to == PaymentStatusRefunded {
			return AdminAction{}, fmt.Errorf("%w: use the refund operation", ErrInvalidTransition)
		}
		if !CanTransition(from, to) {
			return AdminAction{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if to == PaymentStatusSuccess && !d.IsCommitment() {
			return AdminAction{}, fmt.Errorf("%w: gateway donations settle through payment verification", ErrInvalidTransition)
		}
		received := d.Review.PaymentReceived
		if update.PaymentReceived != nil {
			received = *update.PaymentReceived
		}
		if to == PaymentStatusSuccess && !received {
			return AdminAction{}, fmt.Errorf("%w: a pledge succeeds only once its payment is received", ErrInvalidTransition)
		}
	}

	if from == PaymentStatusSuccess || from == PaymentStatusRefunded {
		if update.PaymentReceived != nil || update.AdminVerified != nil || update.AdminRejected != nil || update.RejectionReason != nil {
			return AdminAction{}, ErrDonationImmutable
		}
	}

	rejecting := update.AdminRejected != nil && *update.AdminRejected
	if rejecting {
		if update.RejectionReason == nil || strings.TrimSpace(*update.RejectionReason) == "" {
			return AdminAction{}, ErrRejectionReason
		}
		if to == PaymentStatusSuccess {
			return AdminAction{}, fmt.Errorf("%w: a rejected donation cannot succeed", ErrInvalidTransition)
		}
		if to == from && !from.IsTerminal() {
			to = PaymentStatusFailed
		}
	}

	d.PaymentStatus = to
	if update.PaymentReceived != nil {
		d.Review.PaymentReceived = *update.PaymentReceived
		if *update.PaymentReceived {
			receivedAt := now
			d.Review.PaymentReceivedAt = &receivedAt
		} else {
			d.Review.PaymentReceivedAt = nil
		}
	}
	if update.AdminVerified != nil {
		d.Review.AdminVerified = *update.AdminVerified
	}
	if update.ReviewNotes != nil {
		notes := strings.TrimSpace(*update.ReviewNotes)
		d.Review.ReviewNotes = &notes
	}
	if update.AdminRejected != nil {
		d.Review.AdminRejected = *update.AdminRejected
		if rejecting {
			reason := strings.TrimSpace(*update.RejectionReason)
			d.Review.RejectionReason = &reason
			d.Review.AdminVerified = false
		} else {
			d.Review.RejectionReason = nil
		}
	}
	d.UpdatedAt = now

	action := AdminAction{
		ID:         uuid.New(),
		DonationID: d.ID,
		AdminID:    adminID,
		FromStatus: from,
		ToStatus:   to,
		CreatedAt:  now,
	}
	switch {
	case rejecting:
		action.Action = AdminActionReject
		action.Message = fmt.Sprintf("Donation rejected by admin: %s", *d.Review.RejectionReason)
	case (update.AdminVerified != nil && *update.AdminVerified) || to == PaymentStatusSuccess:
		action.Action = AdminActionApprove
		action.Message = fmt.Sprintf("Donation of %d approved by admin", d.Amount)
	case to != from:
		action.Action = AdminActionStatusChange
		action.Message = fmt.Sprintf("Payment status changed from %s to %s", from, to)
	default:
		action.Action = AdminActionReview
		action.Message = "Review details updated"
	}
	return action, d.Validate()
}

// CommitmentRequest is the payload for pledging a donation.
type CommitmentRequest struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Amount     int64     `json:"amount"`
	DonorEmail string    `json:"donor_email"`
	DonorName  string    `json:"donor_name"`
	Message    string    `json:"message"`
	IPAddress  string    `json:"-"`
}

// OrderRequest is the payload for starting a gateway payment.
type OrderRequest struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Amount     int64     `json:"amount"`
	DonorEmail string    `json:"donor_email"`
	DonorName  string    `json:"donor_name"`
	Message    string    `json:"message"`
	IPAddress  string    `json:"-"`
}

// OrderResult is returned to the client once the remote order exists.
type OrderResult struct {
	DonationID     uuid.UUID       `json:"donation_id"`
	OrderID        string          `json:"order_id"`
	Amount         int64           `json:"amount"`
	AmountMinor    int64           `json:"amount_minor"`
	Currency       string          `json:"currency"`
	ReceiptNumber  string          `json:"receipt"`
	TransactionFee decimal.Decimal `json:"transaction_fee"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	KeyID          string          `json:"key_id"`
}

// VerifyPaymentRequest carries the gateway callback fields.
type VerifyPaymentRequest struct {
	OrderID    string    `json:"order_id"`
	PaymentID  string    `json:"payment_id"`
	Signature  string    `json:"signature"`
	DonationID uuid.UUID `json:"donation_id"`
}

// VerificationResult is returned for both first and repeated verifications.
type VerificationResult struct {
	DonationID             uuid.UUID     `json:"donation_id"`
	Status                 PaymentStatus `json:"status"`
	ReceiptNumber          string        `json:"receipt_number"`
	AlreadyProcessed       bool          `json:"already_processed"`
	ReconciliationRequired bool          `json:"reconciliation_required,omitempty"`
}

// DonationStatusView is the donor-facing status lookup.
type DonationStatusView struct {
	DonationID    uuid.UUID     `json:"donation_id"`
	CampaignID    uuid.UUID     `json:"campaign_id"`
	Amount        int64         `json:"amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod string        `json:"payment_method"`
	ReceiptNumber string        `json:"receipt_number"`
	AdminVerified bool          `json:"admin_verified"`
	Refunded      bool          `json:"refunded"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// StatusView builds the donor-facing projection.
func (d *Donation) StatusView() DonationStatusView {
	return DonationStatusView{
		DonationID:    d.ID,
		CampaignID:    d.CampaignID,
		Amount:        d.Amount,
		PaymentStatus: d.PaymentStatus,
		PaymentMethod: d.PaymentMethod,
		ReceiptNumber: d.ReceiptNumber,
		AdminVerified: d.Review.AdminVerified,
		Refunded:      d.Refunded(),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
