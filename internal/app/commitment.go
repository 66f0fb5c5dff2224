package app

import (
	"context"
	"log"
	"strings"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/google/uuid"
)

// CreateCommitment records a pledge. The campaign's raised amount and contributor
// count move as soon as the pledge is stored; an admin later confirms or rejects it.
func (s *Service) CreateCommitment(ctx context.Context, donorID *uuid.UUID, req domain.CommitmentRequest) (*domain.Donation, error) {
	if err := s.validateDonation(req.CampaignID, req.Amount, donorID, req.DonorEmail); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindCampaignByID(ctx, req.CampaignID); err != nil {
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
		PaymentMethod:  domain.PaymentMethodCommitment,
		TransactionFee: fee,
		NetAmount:      net,
		Fraud:          snapshot,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.insertWithReceipt(ctx, donation, s.repo.CreateCommitment); err != nil {
		log.Printf("level=error component=service flow=commitment msg=\"failed to store commitment\" campaign_id=%s err=%v", req.CampaignID, err)
		return nil, err
	}
	s.velocity.Remember(ctx, actor.VelocityKey(), now)

	log.Printf("level=info component=service flow=commitment msg=\"commitment recorded\" donation_id=%s campaign_id=%s amount=%d receipt=%s risk=%s", donation.ID, donation.CampaignID, donation.Amount, donation.ReceiptNumber, snapshot.RiskLevel)
	s.publishDonationEvent(ctx, domain.EventDonationCommitted, donation, "")
	return donation, nil
}
