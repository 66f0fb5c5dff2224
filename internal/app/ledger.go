package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/fundbridge/donation-service/internal/store"
	"github.com/google/uuid"
)

// Requester is the authenticated caller of an owner-or-admin operation.
type Requester struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// authorizeCampaign allows admins and the campaign owner.
func (s *Service) authorizeCampaign(ctx context.Context, campaignID uuid.UUID, requester Requester) (*domain.Campaign, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !requester.IsAdmin && campaign.OwnerID != requester.UserID {
		return nil, ErrForbidden
	}
	return campaign, nil
}

// GetWallet returns the campaign wallet summary. A campaign with no settled donations
// yet reports an empty wallet.
func (s *Service) GetWallet(ctx context.Context, campaignID uuid.UUID, requester Requester) (*domain.CampaignWallet, error) {
	if _, err := s.authorizeCampaign(ctx, campaignID, requester); err != nil {
		return nil, err
	}
	wallet, err := s.repo.FindWalletByCampaignID(ctx, campaignID)
	if errors.Is(err, store.ErrWalletNotFound) {
		empty := domain.NewCampaignWallet(campaignID, s.now())
		empty.ID = uuid.Nil
		return empty, nil
	}
	return wallet, err
}

// ListWalletTransactions pages through the wallet ledger, newest first.
func (s *Service) ListWalletTransactions(ctx context.Context, campaignID uuid.UUID, requester Requester, limit, offset int) ([]domain.WalletTransaction, error) {
	if _, err := s.authorizeCampaign(ctx, campaignID, requester); err != nil {
		return nil, err
	}
	limit, offset = normalizePage(limit, offset)
	return s.repo.ListWalletTransactions(ctx, campaignID, limit, offset)
}

// AuditWallet replays a wallet's ledger and compares it with the stored totals.
// Discrepancies are reported, never corrected.
func (s *Service) AuditWallet(ctx context.Context, campaignID uuid.UUID) (*domain.LedgerAudit, error) {
	wallet, entries, err := s.repo.LoadWalletLedger(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	audit := wallet.Audit(entries)
	if !audit.Consistent {
		log.Printf("level=error component=ledger_audit msg=\"wallet ledger inconsistent\" campaign_id=%s wallet_id=%s discrepancies=%q", campaignID, wallet.ID, audit.Discrepancies)
	}
	return &audit, nil
}

// LedgerAuditReport summarises one audit pass over every wallet.
type LedgerAuditReport struct {
	Audited      int                  `json:"audited"`
	Inconsistent []domain.LedgerAudit `json:"inconsistent"`
	Failed       int                  `json:"failed"`
}

// AuditAllWallets audits every wallet, continuing past individual failures.
func (s *Service) AuditAllWallets(ctx context.Context) (LedgerAuditReport, error) {
	report := LedgerAuditReport{Inconsistent: make([]domain.LedgerAudit, 0)}
	campaignIDs, err := s.repo.ListWalletCampaignIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list wallets: %w", err)
	}
	for _, campaignID := range campaignIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		audit, err := s.AuditWallet(ctx, campaignID)
		if err != nil {
			report.Failed++
			log.Printf("level=error component=ledger_audit msg=\"wallet audit failed\" campaign_id=%s err=%v", campaignID, err)
			continue
		}
		report.Audited++
		if !audit.Consistent {
			report.Inconsistent = append(report.Inconsistent, *audit)
		}
	}
	return report, nil
}
