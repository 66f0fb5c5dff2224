package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/fundbridge/donation-service/internal/store"
	"github.com/google/uuid"
)

// ReviewDonation applies an admin update and appends its audit entry in one write.
// Rejecting or failing a pledge that was counted toward the campaign reverses that
// count. Approving a pledge as paid credits the campaign wallet.
func (s *Service) ReviewDonation(ctx context.Context, donationID, adminID uuid.UUID, update domain.AdminUpdate) (*domain.Donation, error) {
	if update.IsEmpty() {
		return nil, ErrEmptyUpdate
	}
	donation, err := s.repo.FindDonationByID(ctx, donationID)
	if err != nil {
		return nil, err
	}

	expected := donation.PaymentStatus
	action, err := donation.ApplyReview(update, adminID, s.now())
	if err != nil {
		return nil, err
	}

	adjustment := store.RaisedUnchanged
	if donation.CountedInRaised && reversesPledge(donation) {
		adjustment = store.RaisedReverse
	}

	updated, err := s.repo.ApplyAdminReview(ctx, store.AdminReviewParams{
		Donation:   donation,
		Expected:   expected,
		Action:     action,
		Adjustment: adjustment,
	})
	if err != nil {
		log.Printf("level=error component=service flow=admin_review msg=\"failed to persist review\" donation_id=%s admin_id=%s err=%v", donationID, adminID, err)
		return nil, err
	}
	log.Printf("level=info component=service flow=admin_review msg=\"donation reviewed\" donation_id=%s admin_id=%s action=%s from=%s to=%s reversed_raised=%t", donationID, adminID, action.Action, action.FromStatus, action.ToStatus, adjustment == store.RaisedReverse)

	if updated.IsCommitment() && updated.PaymentStatus == domain.PaymentStatusSuccess && updated.Review.PaymentReceived && expected != domain.PaymentStatusSuccess {
		if _, _, err := s.creditDonation(ctx, updated); err != nil {
			log.Printf("level=error component=service flow=admin_review msg=\"wallet credit failed; donation needs reconciliation\" donation_id=%s err=%v", updated.ID, err)
		}
		s.applyDonorStats(ctx, updated)
	}

	switch action.Action {
	case domain.AdminActionApprove:
		s.publishDonationEvent(ctx, domain.EventDonationApproved, updated, "")
	case domain.AdminActionReject:
		reason := ""
		if updated.Review.RejectionReason != nil {
			reason = *updated.Review.RejectionReason
		}
		s.publishDonationEvent(ctx, domain.EventDonationRejected, updated, reason)
	}

	updated.AdminActions = append(updated.AdminActions, action)
	return updated, nil
}

func reversesPledge(d *domain.Donation) bool {
	switch d.PaymentStatus {
	case domain.PaymentStatusFailed, domain.PaymentStatusCancelled:
		return true
	}
	return d.Review.AdminRejected
}

// RefundDonation fully refunds a settled donation: the wallet is debited by the credited
// net amount and the campaign totals are reversed, all in one transaction.
func (s *Service) RefundDonation(ctx context.Context, donationID, adminID uuid.UUID, reason string) (*domain.Donation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrRefundReasonRequired
	}

	now := s.now()
	refunded, entry, err := s.repo.RefundDonation(ctx, store.RefundDonationParams{
		DonationID: donationID,
		Refund: domain.RefundDetails{
			Reason:     reason,
			RefundedAt: now,
			RefundedBy: adminID,
		},
		Action: domain.AdminAction{
			ID:         uuid.New(),
			DonationID: donationID,
			AdminID:    adminID,
			Action:     domain.AdminActionRefund,
			Message:    fmt.Sprintf("Donation refunded: %s", reason),
			FromStatus: domain.PaymentStatusSuccess,
			ToStatus:   domain.PaymentStatusRefunded,
			CreatedAt:  now,
		},
		Description: fmt.Sprintf("Refund of donation %s", donationID),
	})
	if err != nil {
		log.Printf("level=error component=service flow=refund msg=\"refund failed\" donation_id=%s admin_id=%s err=%v", donationID, adminID, err)
		return nil, err
	}

	log.Printf("level=info component=service flow=refund msg=\"donation refunded\" donation_id=%s amount=%s balance_after=%s", donationID, entry.Amount.StringFixed(2), entry.BalanceAfter.StringFixed(2))
	s.publishDonationEvent(ctx, domain.EventDonationRefunded, refunded, reason)
	return refunded, nil
}
