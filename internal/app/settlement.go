/**
 * @description
 * The settlement coordinator: order creation against the payment gateway and payment
 * verification. Order creation is a two-step saga; the pending donation is written
 * first and deleted again if the gateway cannot create the remote order. Verification
 * is idempotent and safe to call concurrently for the same donation.
 *
 * @notes
 * - The transition to `success` and the campaign increment happen in one conditional
 *   UPDATE inside the store, so only one verification can ever win.
 * - A failed wallet credit after settlement is logged and left for the reconciliation
 *   job, which lists successful donations that have no ledger credit.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/fundbridge/donation-service/internal/store"
	"github.com/google/uuid"
)

const unknownPaymentMethod = "unknown"

// CreateOrder validates the request, stores a pending donation and creates the remote
// gateway order for it.
func (s *Service) CreateOrder(ctx context.Context, donorID *uuid.UUID, req domain.OrderRequest) (*domain.OrderResult, error) {
	if err := s.validateDonation(req.CampaignID, req.Amount, donorID, req.DonorEmail); err != nil {
		return nil, err
	}
	campaign, err := s.repo.FindCampaignByID(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if err := campaign.CheckOrderHeadroom(req.Amount); err != nil {
		log.Printf("level=info component=service flow=order msg=\"order refused by campaign headroom\" campaign_id=%s amount=%d raised=%d goal=%d err=%v", campaign.ID, req.Amount, campaign.RaisedAmount, campaign.GoalAmount, err)
		return nil, err
	}

	email, name, err := s.fillDonorContact(ctx, donorID, req.DonorEmail, req.DonorName)
	if err != nil {
		return nil, err
	}

	now := s.now()
	actor := domain.Actor{DonorID: donorID, Email: email, IPAddress: req.IPAddress}
	snapshot, err := s.screenDonation(ctx, actor, req.Amount, req.CampaignID, now)
	if err != nil {
		return nil, err
	}

	fee, net := domain.ComputeFee(req.Amount, s.settings.PlatformFeePercent)
	donation := &domain.Donation{
		ID:             uuid.New(),
		DonorID:        donorID,
		CampaignID:     req.CampaignID,
		DonorEmail:     email,
		DonorName:      name,
		Message:        strings.TrimSpace(req.Message),
		Amount:         req.Amount,
		PaymentStatus:  domain.PaymentStatusPending,
		TransactionFee: fee,
		NetAmount:      net,
		Fraud:          snapshot,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.insertWithReceipt(ctx, donation, s.repo.CreateDonation); err != nil {
		log.Printf("level=error component=service flow=order msg=\"failed to store pending donation\" campaign_id=%s err=%v", req.CampaignID, err)
		return nil, err
	}

	amountMinor := req.Amount * 100
	order, err := s.gateway.CreateOrder(ctx, amountMinor, s.settings.Currency, donation.ReceiptNumber)
	if err != nil {
		log.Printf("level=error component=service flow=order msg=\"gateway order failed; removing pending donation\" donation_id=%s err=%v", donation.ID, err)
		return nil, s.compensateOrder(ctx, donation.ID, fmt.Errorf("failed to create gateway order: %w", err))
	}
	if err := s.repo.AttachOrderID(ctx, donation.ID, order.ID); err != nil {
		log.Printf("level=error component=service flow=order msg=\"failed to attach order id; removing pending donation\" donation_id=%s order_id=%s err=%v", donation.ID, order.ID, err)
		return nil, s.compensateOrder(ctx, donation.ID, fmt.Errorf("failed to attach order id: %w", err))
	}
	s.velocity.Remember(ctx, actor.VelocityKey(), now)

	log.Printf("level=info component=service flow=order msg=\"order created\" donation_id=%s order_id=%s amount=%d receipt=%s", donation.ID, order.ID, donation.Amount, donation.ReceiptNumber)
	return &domain.OrderResult{
		DonationID:     donation.ID,
		OrderID:        order.ID,
		Amount:         donation.Amount,
		AmountMinor:    amountMinor,
		Currency:       s.settings.Currency,
		ReceiptNumber:  donation.ReceiptNumber,
		TransactionFee: fee,
		NetAmount:      net,
		KeyID:          s.gateway.PublicKeyID(),
	}, nil
}

// compensateOrder deletes the provisional donation and returns cause, joined with the
// delete error if the compensation itself failed.
func (s *Service) compensateOrder(ctx context.Context, donationID uuid.UUID, cause error) error {
	deleted, err := s.repo.DeletePendingDonation(context.WithoutCancel(ctx), donationID)
	if err != nil {
		log.Printf("level=error component=service flow=order msg=\"compensation failed; pending donation left behind\" donation_id=%s err=%v", donationID, err)
		return errors.Join(cause, fmt.Errorf("failed to remove pending donation %s: %w", donationID, err))
	}
	if !deleted {
		log.Printf("level=warn component=service flow=order msg=\"pending donation already gone during compensation\" donation_id=%s", donationID)
	}
	return cause
}

// VerifyPayment checks the gateway signature and settles the donation. Repeated calls
// for a settled donation return the original result without side effects.
func (s *Service) VerifyPayment(ctx context.Context, req domain.VerifyPaymentRequest) (*domain.VerificationResult, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	req.Signature = strings.TrimSpace(req.Signature)
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" || req.DonationID == uuid.Nil {
		return nil, ErrMissingPaymentFields
	}

	if err := s.gateway.VerifyPaymentSignature(req.OrderID, req.PaymentID, req.Signature); err != nil {
		log.Printf("level=warn component=service flow=verify msg=\"payment signature rejected\" donation_id=%s order_id=%s err=%v", req.DonationID, req.OrderID, err)
		return nil, err
	}

	donation, err := s.repo.FindDonationByID(ctx, req.DonationID)
	if err != nil {
		return nil, err
	}
	if donation.PaymentStatus == domain.PaymentStatusSuccess {
		return alreadyProcessed(donation), nil
	}
	if donation.OrderID == nil || *donation.OrderID != req.OrderID {
		return nil, ErrOrderMismatch
	}
	if !domain.CanTransition(donation.PaymentStatus, domain.PaymentStatusSuccess) {
		return nil, fmt.Errorf("%w: status is %s", ErrDonationNotPayable, donation.PaymentStatus)
	}

	method := unknownPaymentMethod
	payment, err := s.gateway.FetchPayment(ctx, req.PaymentID)
	if err != nil {
		log.Printf("level=warn component=service flow=verify msg=\"payment details unavailable; settling without method\" donation_id=%s payment_id=%s err=%v", donation.ID, req.PaymentID, err)
	} else {
		if payment.OrderID != "" && payment.OrderID != req.OrderID {
			return nil, ErrOrderMismatch
		}
		if m := strings.TrimSpace(payment.Method); m != "" {
			method = m
		}
	}

	settlement := domain.SettlementDetails{
		PaymentID: req.PaymentID,
		Signature: req.Signature,
		Method:    method,
		SettledAt: s.now(),
	}
	settled, err := s.repo.SettleDonation(ctx, store.SettleDonationParams{
		DonationID: donation.ID,
		OrderID:    req.OrderID,
		Settlement: settlement,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to settle donation: %w", err)
	}
	if !settled {
		// Another verification won the race, or an admin moved the donation.
		current, err := s.repo.FindDonationByID(ctx, donation.ID)
		if err != nil {
			return nil, err
		}
		if current.PaymentStatus == domain.PaymentStatusSuccess {
			return alreadyProcessed(current), nil
		}
		return nil, fmt.Errorf("%w: status is %s", ErrDonationNotPayable, current.PaymentStatus)
	}
	if err := donation.MarkSettled(settlement); err != nil {
		return nil, err
	}
	donation.CountedInRaised = true

	result := &domain.VerificationResult{
		DonationID:    donation.ID,
		Status:        donation.PaymentStatus,
		ReceiptNumber: donation.ReceiptNumber,
	}
	if _, _, err := s.creditDonation(ctx, donation); err != nil {
		log.Printf("level=error component=service flow=verify msg=\"wallet credit failed; donation needs reconciliation\" donation_id=%s campaign_id=%s net_amount=%s err=%v", donation.ID, donation.CampaignID, donation.NetAmount.StringFixed(2), err)
		result.ReconciliationRequired = true
	}
	s.applyDonorStats(ctx, donation)

	log.Printf("level=info component=service flow=verify msg=\"donation settled\" donation_id=%s campaign_id=%s amount=%d method=%s", donation.ID, donation.CampaignID, donation.Amount, method)
	s.publishDonationEvent(ctx, domain.EventDonationSettled, donation, "")
	return result, nil
}

func alreadyProcessed(donation *domain.Donation) *domain.VerificationResult {
	return &domain.VerificationResult{
		DonationID:       donation.ID,
		Status:           donation.PaymentStatus,
		ReceiptNumber:    donation.ReceiptNumber,
		AlreadyProcessed: true,
	}
}
