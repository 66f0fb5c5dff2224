package app

import (
	"context"
	"errors"
	"log"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/fundbridge/donation-service/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestWithdrawal lets a campaign owner ask for a payout. The balance is checked
// here for early feedback and enforced again when the payout is processed.
func (s *Service) RequestWithdrawal(ctx context.Context, campaignID, ownerID uuid.UUID, amount decimal.Decimal, note string) (*domain.WithdrawalRequest, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	request, err := domain.NewWithdrawalRequest(campaignID, ownerID, amount, note, s.now())
	if err != nil {
		return nil, err
	}

	wallet, err := s.repo.FindWalletByCampaignID(ctx, campaignID)
	switch {
	case errors.Is(err, store.ErrWalletNotFound):
		return nil, ErrWithdrawalExceedsFunds
	case err != nil:
		return nil, err
	case request.Amount.GreaterThan(wallet.Balance):
		return nil, ErrWithdrawalExceedsFunds
	}

	if err := s.repo.CreateWithdrawalRequest(ctx, request); err != nil {
		return nil, err
	}
	log.Printf("level=info component=service flow=withdrawal msg=\"withdrawal requested\" withdrawal_id=%s campaign_id=%s amount=%s", request.ID, campaignID, request.Amount.StringFixed(2))
	s.publishWithdrawalEvent(ctx, request)
	return request, nil
}

// ListWithdrawals returns a campaign's withdrawal requests for its owner or an admin.
func (s *Service) ListWithdrawals(ctx context.Context, campaignID uuid.UUID, requester Requester) ([]domain.WithdrawalRequest, error) {
	if _, err := s.authorizeCampaign(ctx, campaignID, requester); err != nil {
		return nil, err
	}
	return s.repo.ListWithdrawalsByCampaign(ctx, campaignID)
}

// ApproveWithdrawal moves a pending request to approved.
func (s *Service) ApproveWithdrawal(ctx context.Context, withdrawalID, adminID uuid.UUID) (*domain.WithdrawalRequest, error) {
	return s.reviewWithdrawal(ctx, withdrawalID, func(r *domain.WithdrawalRequest) error {
		return r.Approve(adminID, s.now())
	})
}

// RejectWithdrawal moves a pending request to rejected with a mandatory reason.
func (s *Service) RejectWithdrawal(ctx context.Context, withdrawalID, adminID uuid.UUID, reason string) (*domain.WithdrawalRequest, error) {
	return s.reviewWithdrawal(ctx, withdrawalID, func(r *domain.WithdrawalRequest) error {
		return r.Reject(adminID, reason, s.now())
	})
}

func (s *Service) reviewWithdrawal(ctx context.Context, withdrawalID uuid.UUID, apply func(*domain.WithdrawalRequest) error) (*domain.WithdrawalRequest, error) {
	request, err := s.repo.FindWithdrawalByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	expected := request.Status
	if err := apply(request); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateWithdrawalReview(ctx, request, expected); err != nil {
		return nil, err
	}
	log.Printf("level=info component=service flow=withdrawal msg=\"withdrawal reviewed\" withdrawal_id=%s status=%s", request.ID, request.Status)
	s.publishWithdrawalEvent(ctx, request)
	return request, nil
}

// ProcessWithdrawal pays out an approved request by debiting the wallet. Insufficient
// balance leaves both the wallet and the request unchanged.
func (s *Service) ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error) {
	request, entry, err := s.repo.ProcessWithdrawal(ctx, withdrawalID, s.now())
	if err != nil {
		log.Printf("level=error component=service flow=withdrawal msg=\"withdrawal processing failed\" withdrawal_id=%s err=%v", withdrawalID, err)
		return nil, err
	}
	log.Printf("level=info component=service flow=withdrawal msg=\"withdrawal processed\" withdrawal_id=%s amount=%s balance_after=%s", request.ID, entry.Amount.StringFixed(2), entry.BalanceAfter.StringFixed(2))
	s.publishWithdrawalEvent(ctx, request)
	return request, nil
}
